package main

import (
	"context"
	"fmt"
	"text/tabwriter"
)

// scanDelays runs one delay scan and prints the delayed tasks.
func (cli *commandLine) scanDelays(threshold float64) error {
	delayed, err := cli.timeSvc.Scan(context.Background(), threshold)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cli.stdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tUSER\tSTAGE\tEXPECTED\tELAPSED\tDELAY")
	for _, st := range delayed {
		fmt.Fprintf(w, "%d\t%s\t%s\t%dm\t%.1fm\t%.1f%%\n",
			st.TaskID, st.Username, st.CurrentStage, st.ExpectedTime, st.ElapsedTime, st.DelayPercentage)
	}
	fmt.Fprintf(w, "%d delayed task(s)\n", len(delayed))
	return w.Flush()
}
