package codegen

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
)

// runTool feeds src to an external compiler through a temporary file and
// returns the assembly it writes. args are placed before the input path.
func runTool(tool, ext, src string, args ...string) (*bytes.Buffer, error) {
	if _, err := exec.LookPath(tool); err != nil {
		return nil, fmt.Errorf("%s not found in PATH: %w", tool, err)
	}

	inputFile, err := os.CreateTemp("", "quadc-*"+ext)
	if err != nil {
		return nil, err
	}
	defer os.Remove(inputFile.Name())

	if _, err = inputFile.WriteString(src); err != nil {
		inputFile.Close()
		return nil, err
	}
	if err = inputFile.Close(); err != nil {
		return nil, err
	}

	outputFileName := inputFile.Name() + ".s"
	defer os.Remove(outputFileName)

	var stderr bytes.Buffer
	cmd := exec.Command(tool, append(append([]string{"-o", outputFileName}, args...), inputFile.Name())...)
	cmd.Stderr = &stderr
	if err = cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w\n%s", tool, err, stderr.String())
	}

	outputFile, err := os.Open(outputFileName)
	if err != nil {
		return nil, err
	}
	defer outputFile.Close()

	var asmBuf bytes.Buffer
	if _, err = io.Copy(&asmBuf, outputFile); err != nil {
		return nil, err
	}
	return &asmBuf, nil
}
