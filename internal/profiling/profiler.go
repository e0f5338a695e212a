// Package profiling captures pprof profiles around a long-running
// command such as a full index run.
package profiling

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// File names written into the profile directory.
const (
	CPUFile    = "cpu.prof"
	HeapFile   = "heap.prof"
	AllocsFile = "allocs.prof"
	TraceFile  = "trace.out"
)

// Session is an active profiling run. CPU profiling (and tracing, when
// requested) runs from Start until Stop; memory snapshots are taken at
// Stop.
type Session struct {
	dir       string
	cpuFile   *os.File
	traceFile *os.File
	files     []string
	stopped   bool
}

// Start creates dir and begins CPU profiling into it. With withTrace set
// an execution trace is recorded as well.
func Start(dir string, withTrace bool) (*Session, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}
	s := &Session{dir: dir}

	f, err := os.Create(s.path(CPUFile))
	if err != nil {
		return nil, fmt.Errorf("failed to create CPU profile file: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to start CPU profile: %w", err)
	}
	s.cpuFile = f

	if withTrace {
		tf, err := os.Create(s.path(TraceFile))
		if err != nil {
			_ = s.stopCPU()
			return nil, fmt.Errorf("failed to create trace file: %w", err)
		}
		if err := trace.Start(tf); err != nil {
			_ = tf.Close()
			_ = s.stopCPU()
			return nil, fmt.Errorf("failed to start trace: %w", err)
		}
		s.traceFile = tf
	}
	return s, nil
}

// Stop ends CPU profiling and tracing, then writes heap and allocation
// profiles. Calling Stop again is a no-op.
func (s *Session) Stop() error {
	if s.stopped {
		return nil
	}
	s.stopped = true

	var errs []error
	if s.traceFile != nil {
		trace.Stop()
		errs = append(errs, s.traceFile.Close())
		s.files = append(s.files, s.path(TraceFile))
	}
	errs = append(errs, s.stopCPU())

	runtime.GC()
	errs = append(errs,
		s.writeLookup(HeapFile, "heap"),
		s.writeLookup(AllocsFile, "allocs"),
	)
	return errors.Join(errs...)
}

// Files lists the profiles written by Stop.
func (s *Session) Files() []string {
	return s.files
}

func (s *Session) stopCPU() error {
	pprof.StopCPUProfile()
	err := s.cpuFile.Close()
	s.files = append(s.files, s.path(CPUFile))
	return err
}

func (s *Session) writeLookup(name, profile string) error {
	f, err := os.Create(s.path(name))
	if err != nil {
		return fmt.Errorf("failed to create %s profile file: %w", profile, err)
	}
	defer func() { _ = f.Close() }()

	if err := pprof.Lookup(profile).WriteTo(f, 0); err != nil {
		return fmt.Errorf("failed to write %s profile: %w", profile, err)
	}
	s.files = append(s.files, s.path(name))
	return nil
}

func (s *Session) path(name string) string {
	return filepath.Join(s.dir, name)
}
