package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/MrAlaminH/voice-agent-launchpad/internal/domain"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	goodColor   = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
	badColor    = color.New(color.FgRed)
)

var callMeta []string
var callQueued bool

var callCmd = &cobra.Command{
	Use:   "call <phone-number>",
	Short: "Place an outbound call",
	Example: `  # Dial a number and bridge it to an agent room
  telephonyctl call +14155550123

  # Queue the call on the task bus instead of dialing inline
  telephonyctl call +14155550123 --queued

  # Attach metadata
  telephonyctl call +14155550123 --meta campaign=renewal`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}

		meta := map[string]interface{}{}
		for _, kv := range callMeta {
			parts := strings.SplitN(kv, "=", 2)
			if len(parts) != 2 {
				return fmt.Errorf("invalid --meta %q, expected key=value", kv)
			}
			meta[parts[0]] = parts[1]
		}

		body := map[string]interface{}{
			"phone_number": args[0],
			"metadata":     meta,
			"queued":       callQueued,
		}

		if callQueued {
			var resp map[string]string
			if err := apiRequest("POST", "/api/calls", body, &resp); err != nil {
				return err
			}
			goodColor.Printf("Call to %s queued\n", args[0])
			return nil
		}

		var rec domain.CallRecord
		if err := apiRequest("POST", "/api/calls", body, &rec); err != nil {
			return err
		}
		goodColor.Printf("Call placed: %s\n", rec.CallID)
		fmt.Printf("  room:   %s\n", rec.RoomName)
		fmt.Printf("  status: %s\n", rec.Status)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List active calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}

		var resp struct {
			Count int                  `json:"count"`
			Calls []*domain.CallRecord `json:"calls"`
		}
		if err := apiRequest("GET", "/api/calls", nil, &resp); err != nil {
			return err
		}

		if resp.Count == 0 {
			fmt.Println("No active calls")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		defer w.Flush()
		headerColor.Fprintln(w, "CALL ID\tDIRECTION\tPHONE\tSTATUS\tROOM\tSTARTED")
		for _, rec := range resp.Calls {
			started := ""
			if rec.StartTime != nil {
				started = rec.StartTime.Local().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
				rec.CallID, rec.Direction, rec.PhoneNumber, colorStatus(rec.Status), rec.RoomName, started)
		}
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <call-id>",
	Short: "Show one call, including finished ones still in the archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var rec domain.CallRecord
		if err := apiRequest("GET", "/api/calls/"+args[0], nil, &rec); err != nil {
			return err
		}

		out, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var endFailed bool

var endCmd = &cobra.Command{
	Use:   "end <call-id>",
	Short: "End a call and tear down its room",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if noColor {
			color.NoColor = true
		}

		status := "ended"
		if endFailed {
			status = "failed"
		}

		var rec domain.CallRecord
		if err := apiRequest("POST", "/api/calls/"+args[0]+"/end", map[string]string{"status": status}, &rec); err != nil {
			return err
		}
		goodColor.Printf("Call %s %s after %ds\n", rec.CallID, rec.Status, rec.DurationSeconds)
		return nil
	},
}

func colorStatus(status domain.CallStatus) string {
	switch status {
	case domain.CallStatusConnected:
		return goodColor.Sprint(status)
	case domain.CallStatusRinging:
		return warnColor.Sprint(status)
	case domain.CallStatusFailed:
		return badColor.Sprint(status)
	default:
		return string(status)
	}
}

func init() {
	callCmd.Flags().StringArrayVar(&callMeta, "meta", nil, "Call metadata as key=value, repeatable")
	callCmd.Flags().BoolVar(&callQueued, "queued", false, "Queue the call on the task bus instead of dialing inline")
	endCmd.Flags().BoolVar(&endFailed, "failed", false, "Mark the call failed instead of ended")

	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(endCmd)
}
