package bridge

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutput_ConcurrentWrites(t *testing.T) {
	var out Output
	stdout := out.StdoutWriter()
	stderr := out.StderrWriter()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _ = stdout.Write([]byte("o"))
		}()
		go func() {
			defer wg.Done()
			_, _ = stderr.Write([]byte("e"))
		}()
	}
	wg.Wait()

	assert.Len(t, out.Stdout(), 50)
	assert.Len(t, out.Stderr(), 50)
	assert.Equal(t, 100, out.Len())
}

func TestOutput_Combined(t *testing.T) {
	var out Output
	_, _ = out.StdoutWriter().Write([]byte("hello"))
	assert.Equal(t, "hello", out.Combined())

	_, _ = out.StderrWriter().Write([]byte("warn"))
	assert.Equal(t, "hello\nwarn", out.Combined())
}

func TestCommandError(t *testing.T) {
	err := &CommandError{Command: "send", ExitCode: 3, Stderr: "  bad recipient\n"}
	assert.Equal(t, "bridge command failed: send exited with code 3: bad recipient", err.Error())

	err = &CommandError{Command: "logout", ExitCode: 1}
	assert.Equal(t, "bridge command failed: logout exited with code 1", err.Error())
}
