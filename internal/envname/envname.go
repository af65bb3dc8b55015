// Package envname discovers the PlatformIO build environment whose firmware
// the partition table is generated for.
package envname

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/afero"
)

// ErrUnresolved is returned when a resolver cannot produce a name.
var ErrUnresolved = errors.New("build environment not resolved")

// Resolver produces the build environment name.
type Resolver interface {
	ResolveEnvironment(ctx context.Context) (string, error)
}

// Func adapts a function to Resolver.
type Func func(ctx context.Context) (string, error)

func (f Func) ResolveEnvironment(ctx context.Context) (string, error) {
	return f(ctx)
}

// Static always resolves to itself.
type Static string

func (s Static) ResolveEnvironment(context.Context) (string, error) {
	if s == "" {
		return "", fmt.Errorf("%w: empty name", ErrUnresolved)
	}
	return string(s), nil
}

// Env reads the name from an environment variable.
type Env string

func (e Env) ResolveEnvironment(context.Context) (string, error) {
	v := strings.TrimSpace(os.Getenv(string(e)))
	if v == "" {
		return "", fmt.Errorf("%w: %s is not set", ErrUnresolved, string(e))
	}
	return v, nil
}

// Command runs an external program and takes the last non-empty line of its
// standard output as the name.
type Command struct {
	Name string
	Args []string
	Dir  string
}

func (c Command) ResolveEnvironment(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v: %s", ErrUnresolved, c.Name, err, strings.TrimSpace(stderr.String()))
	}

	var name string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			name = line
		}
	}
	if name == "" {
		return "", fmt.Errorf("%w: %s printed nothing", ErrUnresolved, c.Name)
	}
	return name, nil
}

// LaunchConfig reads the environment from a PlatformIO generated
// .vscode/launch.json, which carries it in projectEnvName or in the path of
// the debug executable.
type LaunchConfig struct {
	FS   afero.Fs
	Path string
}

type launchFile struct {
	Configurations []struct {
		Type           string `json:"type"`
		ProjectEnvName string `json:"projectEnvName"`
		Executable     string `json:"executable"`
	} `json:"configurations"`
}

func (l LaunchConfig) ResolveEnvironment(context.Context) (string, error) {
	data, err := afero.ReadFile(l.FS, l.Path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnresolved, err)
	}

	var f launchFile
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(stripLineComments(data), &f); err != nil {
		return "", fmt.Errorf("%w: %s: %v", ErrUnresolved, l.Path, err)
	}

	for _, c := range f.Configurations {
		if c.ProjectEnvName != "" {
			return c.ProjectEnvName, nil
		}
		if env := envFromExecutable(c.Executable); env != "" {
			return env, nil
		}
	}
	return "", fmt.Errorf("%w: no PlatformIO configuration in %s", ErrUnresolved, l.Path)
}

// envFromExecutable extracts <env> from ".../.pio/build/<env>/firmware.elf".
func envFromExecutable(path string) string {
	path = filepath.ToSlash(path)
	const marker = ".pio/build/"
	i := strings.LastIndex(path, marker)
	if i < 0 {
		return ""
	}
	rest := path[i+len(marker):]
	env, _, ok := strings.Cut(rest, "/")
	if !ok {
		return ""
	}
	return env
}

// stripLineComments drops whole-line // comments, which PlatformIO puts at
// the top of the files it generates.
func stripLineComments(data []byte) []byte {
	var out bytes.Buffer
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Bytes()
		if bytes.HasPrefix(bytes.TrimSpace(line), []byte("//")) {
			continue
		}
		out.Write(line)
		out.WriteByte('\n')
	}
	return out.Bytes()
}

// First tries each resolver in order and returns the first name found.
func First(resolvers ...Resolver) Resolver {
	return Func(func(ctx context.Context) (string, error) {
		errs := make([]error, 0, len(resolvers))
		for _, r := range resolvers {
			name, err := r.ResolveEnvironment(ctx)
			if err == nil {
				return name, nil
			}
			errs = append(errs, err)
		}
		if len(errs) == 0 {
			return "", ErrUnresolved
		}
		return "", errors.Join(errs...)
	})
}
