package slave

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pdtopdog/piwheels/internal/protocol"
)

// Result is the outcome of one build: the report for the master plus
// the paths of the produced artifacts.
type Result struct {
	Status   bool
	Duration time.Duration
	Output   string
	Files    []protocol.FileInfo

	// Paths maps filenames to their location on the local disk.
	Paths map[string]string
}

// Builder produces wheels. The pip implementation shells out; tests
// substitute a fake.
type Builder interface {
	Build(ctx context.Context, pkg, version string) (Result, error)
}

// PipBuilder builds wheels by shelling out to pip.
type PipBuilder struct {
	pip     string
	workDir string
	abiTag  string
	timeout time.Duration
}

// NewPipBuilder creates a PipBuilder writing into workDir.
func NewPipBuilder(workDir string) *PipBuilder {
	return &PipBuilder{
		pip:     "pip3",
		workDir: workDir,
		timeout: time.Hour,
	}
}

// Build runs pip wheel for one (package, version) and collects the
// produced artifacts. A non-zero exit is a failed build report, not an
// error; errors mean the builder itself is broken.
func (b *PipBuilder) Build(ctx context.Context, pkg, version string) (Result, error) {
	dir, err := ioutil.TempDir(b.workDir, "build-")
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to create build dir")
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	start := time.Now()
	cmd := exec.CommandContext(ctx, b.pip, "wheel",
		fmt.Sprintf("%s==%s", pkg, version),
		"--wheel-dir", dir,
		"--no-deps",
		"--no-cache-dir",
		"--disable-pip-version-check",
	)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	runErr := cmd.Run()
	duration := time.Since(start)

	result := Result{
		Status:   runErr == nil,
		Duration: duration,
		Output:   output.String(),
		Paths:    make(map[string]string),
	}
	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); !ok {
			os.RemoveAll(dir)
			return Result{}, errors.Wrap(runErr, "failed to run pip")
		}
		os.RemoveAll(dir)
		return result, nil
	}

	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return Result{}, errors.WithStack(err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".whl") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		info, err := fileInfoFor(path, entry.Name(), entry.Size())
		if err != nil {
			return Result{}, errors.WithStack(err)
		}
		result.Files = append(result.Files, info)
		result.Paths[entry.Name()] = path
	}
	if len(result.Files) == 0 {
		// pip succeeded but produced nothing; report it as a failure so
		// the attempt is recorded with its output.
		result.Status = false
	}
	return result, nil
}

// fileInfoFor hashes one wheel and splits its filename into the tag
// tuple: package-version(-build)?-py-abi-platform.whl
func fileInfoFor(path, filename string, size int64) (protocol.FileInfo, error) {
	content, err := ioutil.ReadFile(path)
	if err != nil {
		return protocol.FileInfo{}, errors.WithStack(err)
	}
	digest := sha256.Sum256(content)

	info := protocol.FileInfo{
		Filename: filename,
		Filesize: size,
		Filehash: hex.EncodeToString(digest[:]),
	}

	parts := strings.Split(strings.TrimSuffix(filename, ".whl"), "-")
	if len(parts) >= 5 {
		info.PackageTag = parts[0]
		info.PackageVersionTag = parts[1]
		info.PyVersionTag = parts[len(parts)-3]
		info.ABITag = parts[len(parts)-2]
		info.PlatformTag = parts[len(parts)-1]
	}
	return info, nil
}
