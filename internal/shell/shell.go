// Copyright (c) The Debian Media Tools Authors.
// Licensed under the MIT License.

// Package shell runs external tools and streams their output through the
// shared logger.
package shell

import (
	"bufio"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/osbuilders/debian-media-tools/internal/logger"
	"github.com/sirupsen/logrus"
)

// Execute runs the program and returns its stdout and stderr.
func Execute(program string, args ...string) (stdout string, stderr string, err error) {
	return ExecuteWithEnv(nil, program, args...)
}

// ExecuteWithEnv runs the program with extra environment variables appended
// to the current process environment.
func ExecuteWithEnv(extraEnv []string, program string, args ...string) (stdout string, stderr string, err error) {
	cmd := exec.Command(program, args...)
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}

	stdoutBuilder := strings.Builder{}
	stderrBuilder := strings.Builder{}
	cmd.Stdout = &stdoutBuilder
	cmd.Stderr = &stderrBuilder

	err = cmd.Run()
	stdout = stdoutBuilder.String()
	stderr = stderrBuilder.String()
	if err != nil {
		err = fmt.Errorf("failed to run (%s):\n%v\n%s", program, err, strings.TrimSpace(stderr))
	}

	return stdout, stderr, err
}

// ExecuteLive runs the program, streaming every output line to the logger as
// it is produced. When squashErrors is set, stderr lines are logged at debug
// level instead of warn (for tools with noisy stderr, e.g. xorriso and dd).
func ExecuteLive(squashErrors bool, program string, args ...string) error {
	return ExecuteLiveWithEnv(squashErrors, nil, program, args...)
}

func ExecuteLiveWithEnv(squashErrors bool, extraEnv []string, program string, args ...string) error {
	logger.Log.Debugf("Executing: %s %s", program, strings.Join(args, " "))

	cmd := exec.Command(program, args...)
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe for (%s):\n%w", program, err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe for (%s):\n%w", program, err)
	}

	err = cmd.Start()
	if err != nil {
		return fmt.Errorf("failed to start (%s):\n%w", program, err)
	}

	stderrLevel := logrus.WarnLevel
	if squashErrors {
		stderrLevel = logrus.DebugLevel
	}

	wg := sync.WaitGroup{}
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stdoutPipe)
		for scanner.Scan() {
			logger.Log.Debug(scanner.Text())
		}
	}()
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderrPipe)
		for scanner.Scan() {
			logger.Log.Log(stderrLevel, scanner.Text())
		}
	}()
	wg.Wait()

	err = cmd.Wait()
	if err != nil {
		return fmt.Errorf("failed to run (%s):\n%w", program, err)
	}

	return nil
}

// ExecuteInteractive runs the program attached to the caller's terminal.
// Used for customization programs that may prompt.
func ExecuteInteractive(extraEnv []string, program string, args ...string) error {
	logger.Log.Debugf("Executing interactively: %s %s", program, strings.Join(args, " "))

	cmd := exec.Command(program, args...)
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	err := cmd.Run()
	if err != nil {
		return fmt.Errorf("failed to run (%s):\n%w", program, err)
	}

	return nil
}
