package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// printValue renders v in the format chosen with --output
func printValue(cmd *cobra.Command, opts *options, v any) error {
	out := cmd.OutOrStdout()

	switch opts.output {
	case "json", "":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		// Round-trip through JSON so YAML keys match the API field names
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(out)
		defer enc.Close()
		return enc.Encode(generic)
	default:
		return fmt.Errorf("unsupported output format %q", opts.output)
	}
}
