package main

import (
	"fmt"
	"io"
	"os"

	"github.com/newrelic/nr-catalog-sync/pkg/query"
	"github.com/ohler55/ojg/oj"
	"github.com/spf13/cobra"
)

func newEvalCmd() *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "eval <expression> [file]",
		Short: "Evaluate a mapping query against a JSON document",
		Long: `Evaluate a mapping query against a JSON document read from file, or from
stdin when no file is given. By default only the first output is printed, the
way mapping fields use it; --all prints every output.

Examples:
  echo '{"name": "svc-a"}' | nr-catalog-sync eval '.name | test("^svc-")'
  nr-catalog-sync eval --all '.[] | .path_with_namespace' projects.json
`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, err := query.Compile(args[0])
			if err != nil {
				return err
			}

			var data []byte
			if len(args) == 2 {
				data, err = os.ReadFile(args[1])
			} else {
				data, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return fmt.Errorf("failed to read input: %w", err)
			}

			doc, err := oj.Parse(data)
			if err != nil {
				return fmt.Errorf("input is not valid JSON: %w", err)
			}

			input := query.FromNative(doc)

			var outputs []query.Value
			if all {
				outputs, err = expr.EvaluateAll(input)
			} else {
				var v query.Value
				v, err = expr.Evaluate(input)
				outputs = []query.Value{v}
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, v := range outputs {
				fmt.Fprintln(out, oj.JSON(v.Native(), &oj.Options{Indent: 2, Sort: true}))
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "print every output instead of the first")

	return cmd
}
