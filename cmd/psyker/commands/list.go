package commands

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/psyker-lang/psyker/internal/printer"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:   "list [workers|agents|tasks]",
	Short: "List loaded definitions",
	Long: `List shows the definitions in the session registry. Without a target
it lists workers, agents, and tasks in turn.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runList,
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(listCmd)
}

type workerSummary struct {
	Name         string `json:"name"`
	Type         string `json:"type"`
	Capabilities int    `json:"capabilities"`
}

type agentSummary struct {
	Name            string `json:"name"`
	Type            string `json:"type"`
	WorkerInstances int    `json:"worker_instances"`
}

type taskSummary struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	Statements int    `json:"statements"`
}

func runList(cmd *cobra.Command, args []string) error {
	target := ""
	if len(args) == 1 {
		target = args[0]
	}

	switch target {
	case "workers":
		return listWorkers(listJSON)
	case "agents":
		return listAgents(listJSON)
	case "tasks":
		return listTasks(listJSON)
	case "":
		if listJSON {
			all := struct {
				Workers []workerSummary `json:"workers"`
				Agents  []agentSummary  `json:"agents"`
				Tasks   []taskSummary   `json:"tasks"`
			}{workerSummaries(), agentSummaries(), taskSummaries()}
			return printJSON(all)
		}
		printer.Header("workers")
		printWorkerTable(workerSummaries())
		printer.Header("agents")
		printAgentTable(agentSummaries())
		printer.Header("tasks")
		printTaskTable(taskSummaries())
		return nil
	default:
		return fmt.Errorf("list target must be one of: workers, agents, tasks")
	}
}

func listWorkers(asJSON bool) error {
	rows := workerSummaries()
	if asJSON {
		return printJSON(rows)
	}
	printWorkerTable(rows)
	return nil
}

func listAgents(asJSON bool) error {
	rows := agentSummaries()
	if asJSON {
		return printJSON(rows)
	}
	printAgentTable(rows)
	return nil
}

func listTasks(asJSON bool) error {
	rows := taskSummaries()
	if asJSON {
		return printJSON(rows)
	}
	printTaskTable(rows)
	return nil
}

func workerSummaries() []workerSummary {
	workers := state.Workers()
	rows := make([]workerSummary, 0, len(workers))
	for _, w := range workers {
		rows = append(rows, workerSummary{Name: w.Name, Type: "worker", Capabilities: len(w.Allows)})
	}
	return rows
}

func agentSummaries() []agentSummary {
	agents := state.Agents()
	rows := make([]agentSummary, 0, len(agents))
	for _, a := range agents {
		rows = append(rows, agentSummary{Name: a.Name, Type: "agent", WorkerInstances: a.PoolSize()})
	}
	return rows
}

func taskSummaries() []taskSummary {
	tasks := state.Tasks()
	rows := make([]taskSummary, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, taskSummary{Name: t.Name, Type: "task", Statements: len(t.Statements)})
	}
	return rows
}

func printWorkerTable(rows []workerSummary) {
	printer.Printf("%-20s %-8s %s\n", "NAME", "TYPE", "CAPABILITIES")
	for _, r := range rows {
		printer.Printf("%-20s %-8s %d\n", r.Name, r.Type, r.Capabilities)
	}
}

func printAgentTable(rows []agentSummary) {
	printer.Printf("%-20s %-8s %s\n", "NAME", "TYPE", "WORKER_INSTANCES")
	for _, r := range rows {
		printer.Printf("%-20s %-8s %d\n", r.Name, r.Type, r.WorkerInstances)
	}
}

func printTaskTable(rows []taskSummary) {
	printer.Printf("%-20s %-8s %s\n", "NAME", "TYPE", "STATEMENTS")
	for _, r := range rows {
		printer.Printf("%-20s %-8s %d\n", r.Name, r.Type, r.Statements)
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	printer.Println(string(data))
	return nil
}
