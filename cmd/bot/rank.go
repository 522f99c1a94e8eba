package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func rankCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rank <dropID>",
		Short: "Print the current candidate ranking for a drop",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid drop id %q", args[0])
			}
			st := openStore(cfg)
			defer st.Close()
			eng, err := newEngine(st, nil, nil)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			d, cands, err := eng.RankDrop(ctx, id)
			if err != nil {
				return err
			}

			fmt.Printf("Drop %d at %s, requirement %d, status %s, reserved %v\n\n",
				d.ID, d.ScheduledAt.In(eng.Location()).Format("2006-01-02 15:04"), d.Requirement, d.Status, d.Reserved)
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "#\tPARTICIPANT\tFORECAST\tELIGIBLE\tTRUST\tSCORE")
			for i, c := range cands {
				fmt.Fprintf(w, "%d\t%s\t%d\t%t\t%d\t%d\n", i+1, c.Participant.DisplayTag(), c.Predicted, c.Eligible, c.Participant.Trust, c.Score)
			}
			return w.Flush()
		},
	}
}
