// Copyright 2023 The Authors (see AUTHORS file)
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cli

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/posener/complete/v2/predict"

	"github.com/abcxyz/webscript/renderer"
)

// GenCommandName is the name the scaffolding command is registered under by
// [Manager.AddDefaultCommands].
const GenCommandName = "gencommand"

const commandTemplate = "templates/command.go.tmpl"

//go:embed templates/*.tmpl
var templatesFS embed.FS

var (
	identRe   = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	packageRe = regexp.MustCompile(`^[a-z][a-z0-9]*$`)
)

var _ Command = (*GenCommand)(nil)

// GenCommand writes a new command source file from the embedded template.
type GenCommand struct {
	BaseCommand
}

// NewGenCommand creates the scaffolding command.
func NewGenCommand() *GenCommand {
	return &GenCommand{}
}

func (c *GenCommand) CommandName() string { return GenCommandName }

func (c *GenCommand) Desc() string {
	return "Generate a new command source file"
}

func (c *GenCommand) Help() string {
	return `
Writes <module_name>.go with a command type named after the module, e.g.
"send_mail" produces SendMailCommand in send_mail.go.
`
}

func (c *GenCommand) Options() []Entry {
	return []Entry{
		&Option{
			Names:   []string{"module_name"},
			Usage:   "The snake_case name of the command module.",
			Predict: predict.Something,
		},
		&Option{
			Names:   []string{"-d", "--dir"},
			Example: "DIR",
			Default: ".",
			Usage:   "The directory to write the file to.",
			Predict: predict.Dirs("*"),
		},
		&Option{
			Names:   []string{"--package"},
			Example: "NAME",
			Usage:   "The package clause of the file. Defaults to the directory name.",
		},
		&Option{
			Names:  []string{"-f", "--force"},
			Action: ActionStoreTrue,
			Usage:  "Overwrite an existing file without asking.",
		},
	}
}

// ClassName returns the command type name generated for module.
func ClassName(module string) string {
	return strcase.ToCamel(module) + "Command"
}

// Run renders the command file and returns its path. It returns a nil
// result when the user declines to overwrite an existing file.
func (c *GenCommand) Run(ctx context.Context, call *Call) (any, error) {
	module := call.Values.String("module_name")
	if !identRe.MatchString(module) {
		return nil, fmt.Errorf("invalid module name %q: must be an identifier", module)
	}

	dir := call.Values.String("dir")
	if dir == "" {
		dir = "."
	}

	pkg := call.Values.String("package")
	if pkg == "" {
		p, err := packageName(dir)
		if err != nil {
			return nil, err
		}
		pkg = p
	}
	if !packageRe.MatchString(pkg) {
		return nil, fmt.Errorf("invalid package name %q", pkg)
	}

	force, err := call.Values.Bool("force")
	if err != nil {
		return nil, err
	}

	dst := filepath.Join(dir, module+".go")
	if !force {
		ok, err := c.confirmOverwrite(dst)
		if err != nil {
			return nil, err
		}
		if !ok {
			fmt.Fprintf(c.Stdout(), "skipped %s\n", dst)
			return nil, nil
		}
	}

	r, err := renderer.New(ctx, templatesFS)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	if err := r.RenderFile(commandTemplate, dst, map[string]string{
		"package":   pkg,
		"classname": ClassName(module),
		"name":      module,
	}); err != nil {
		return nil, fmt.Errorf("failed to generate command: %w", err)
	}

	fmt.Fprintf(c.Stdout(), "created %s\n", dst)
	return nil, nil
}

// confirmOverwrite asks before replacing an existing file.
func (c *GenCommand) confirmOverwrite(pth string) (bool, error) {
	if _, err := os.Stat(pth); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("failed to stat %s: %w", pth, err)
	}

	answer, err := c.Prompt(fmt.Sprintf("%s already exists, overwrite? [y/N] ", pth))
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// packageName derives a package clause from the directory's base name.
func packageName(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dir, err)
	}

	name := strings.ToLower(filepath.Base(abs))
	name = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, name)

	if !packageRe.MatchString(name) {
		return "main", nil
	}
	return name, nil
}
