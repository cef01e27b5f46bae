package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/frameloom/frameloom/internal/validate"
)

var validateCmd = &cobra.Command{
	Use:   "validate <pipeline.json>",
	Short: "Check a plan for schema and continuity problems without executing it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		proj, err := openProject(args[0])
		if err != nil {
			return err
		}

		findings := proj.checker().Check(proj.doc, proj.ix)
		for _, f := range findings {
			line := f.String()
			if f.Severity == validate.SeverityError {
				fmt.Println(errStyle.Render(line))
			} else {
				fmt.Println(warnStyle.Render(line))
			}
		}

		if errs := validate.Errors(findings); len(errs) > 0 {
			return fmt.Errorf("%d continuity error(s) found", len(errs))
		}
		if len(findings) > 0 {
			fmt.Println(okStyle.Render(fmt.Sprintf("Plan is valid (%d warning(s))", len(findings))))
		} else {
			fmt.Println(okStyle.Render("Plan is valid"))
		}
		return nil
	},
}
