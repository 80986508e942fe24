package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/funvibe/aspectweave/internal/framework"
	"github.com/funvibe/aspectweave/internal/metadata"
)

func loadModule(path string) (*metadata.Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := metadata.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

func (a *app) disasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <module>",
		Short: "Print the declarations and instructions of a module bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModule(args[0])
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), metadata.Disassemble(m))
			return nil
		},
	}
}

func (a *app) verifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify <module>",
		Short: "Check a module bundle for unresolved references and malformed bodies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := loadModule(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			st := newStyles(out)
			problems := metadata.Verify(metadata.NewDomain(framework.New(), m), m)
			for _, p := range problems {
				fmt.Fprintf(out, "%s %s\n", st.failure("error"), p)
			}
			if len(problems) > 0 {
				return fmt.Errorf("%s: %d verification errors", args[0], len(problems))
			}
			fmt.Fprintf(out, "%s %s\n", st.success("ok"), m.Name)
			return nil
		},
	}
}
