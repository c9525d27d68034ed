package transport

import (
	"fmt"
	"os"
	"os/exec"
)

// Child file descriptors carrying the protocol when a process is started with
// StartPipeProcess.
const (
	ChildReadFD  = 3
	ChildWriteFD = 4
)

// StartPipeProcess starts cmd with two extra pipes. The child reads protocol messages
// from file descriptor 3 and writes them to file descriptor 4. The returned connection
// is not yet started; cmd's other streams are left as configured by the caller.
func StartPipeProcess(cmd *exec.Cmd, opts Options) (*PipeConnection, error) {
	if len(cmd.ExtraFiles) != 0 {
		return nil, fmt.Errorf("command already has extra files")
	}

	// childIn: we write, the child reads. childOut: the child writes, we read.
	childInR, childInW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create input pipe: %w", err)
	}
	childOutR, childOutW, err := os.Pipe()
	if err != nil {
		childInR.Close()
		childInW.Close()
		return nil, fmt.Errorf("failed to create output pipe: %w", err)
	}

	cmd.ExtraFiles = []*os.File{childInR, childOutW}
	if err := cmd.Start(); err != nil {
		childInR.Close()
		childInW.Close()
		childOutR.Close()
		childOutW.Close()
		return nil, fmt.Errorf("failed to start process: %w", err)
	}

	// The child holds its own copies now.
	childInR.Close()
	childOutW.Close()

	return NewPipeConnectionFromStreams(childOutR, childInW, opts), nil
}
