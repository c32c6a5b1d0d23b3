package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/psyker-lang/psyker/internal/printer"
)

var inspectJSON bool

var inspectCmd = &cobra.Command{
	Use:   "inspect <worker|agent|task> <name>",
	Short: "Show a loaded definition",
	Long: `Inspect prints one definition from the session registry, either as a
field table or as JSON with --json.`,
	Args: cobra.ExactArgs(2),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(inspectCmd)
}

func runInspect(cmd *cobra.Command, args []string) error {
	def, err := lookupDefinition(args[0], args[1])
	if err != nil {
		return err
	}
	return renderDefinition(def, inspectJSON)
}

// lookupDefinition resolves a registry entry by kind and name.
func lookupDefinition(kind, name string) (any, error) {
	switch kind {
	case "worker":
		if w, ok := state.Worker(name); ok {
			return w, nil
		}
		return nil, fmt.Errorf("Unknown worker '%s'", name)
	case "agent":
		if a, ok := state.Agent(name); ok {
			return a, nil
		}
		return nil, fmt.Errorf("Unknown agent '%s'", name)
	case "task":
		if t, ok := state.Task(name); ok {
			return t, nil
		}
		return nil, fmt.Errorf("Unknown task '%s'", name)
	default:
		return nil, fmt.Errorf("inspect target must be one of: worker, agent, task")
	}
}

func renderDefinition(def any, asJSON bool) error {
	if asJSON {
		return printJSON(def)
	}
	rows, err := definitionRows(def)
	if err != nil {
		return err
	}
	printer.Printf("%-12s %s\n", "FIELD", "VALUE")
	for _, row := range rows {
		printer.Printf("%-12s %s\n", row[0], row[1])
	}
	return nil
}

// definitionRows flattens a definition into sorted field/value pairs.
// Scalar fields print bare; nested ones print as compact JSON.
func definitionRows(def any) ([][2]string, error) {
	data, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to decode definition: %w", err)
	}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][2]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, [2]string{key, formatValue(fields[key])})
	}
	return rows, nil
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case json.Number:
		return val.String()
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
