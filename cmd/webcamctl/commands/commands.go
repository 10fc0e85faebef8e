package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/eric2788/webcamrec/pkg/client"
	"github.com/eric2788/webcamrec/utils"
	"github.com/spf13/cobra"
)

var (
	// Access these variables only from a main package:

	Root = &cobra.Command{
		Use:   "webcamctl",
		Short: "Control a running webcamrec server",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			api = client.New(remoteAddr).SetToken(token)
			if user == "" || pass == "" || token != "" {
				return nil
			}
			_, err := api.Login(cmd.Context(), user, pass)
			return err
		},
		SilenceUsage: true,
	}

	Status = &cobra.Command{
		Use:   "status",
		Short: "Show camera state and process info",
		Args:  cobra.ExactArgs(0),
		RunE:  printResult(func(ctx context.Context) (any, error) { return api.Status(ctx) }),
	}

	Stats = &cobra.Command{
		Use:   "stats",
		Short: "Show throughput counters",
		Args:  cobra.ExactArgs(0),
		RunE:  printResult(func(ctx context.Context) (any, error) { return api.Stats(ctx) }),
	}

	Start = &cobra.Command{
		Use:   "start",
		Short: "Start capture and streaming",
		Args:  cobra.ExactArgs(0),
		RunE:  printResult(func(ctx context.Context) (any, error) { return api.Start(ctx) }),
	}

	Stop = &cobra.Command{
		Use:   "stop",
		Short: "Stop the camera",
		Args:  cobra.ExactArgs(0),
		RunE:  printResult(func(ctx context.Context) (any, error) { return api.Stop(ctx) }),
	}

	Record = &cobra.Command{
		Use:       "record on|off",
		Short:     "Toggle segment recording",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return printResult(func(ctx context.Context) (any, error) {
				return api.SetRecording(ctx, args[0] == "on")
			})(cmd, args)
		},
	}

	Segments = &cobra.Command{
		Use:   "segments",
		Short: "List recorded segments",
		Args:  cobra.ExactArgs(0),
		RunE:  listSegments,
	}

	Storage = &cobra.Command{
		Use:   "storage",
		Short: "Show disk usage of the segment directory",
		Args:  cobra.ExactArgs(0),
		RunE:  printResult(func(ctx context.Context) (any, error) { return api.Storage(ctx) }),
	}

	remoteAddr string
	token      string
	user       string
	pass       string

	api *client.Client
)

func init() {
	Root.AddCommand(Status, Stats, Start, Stop, Record, Segments, Storage)

	Root.PersistentFlags().StringVar(&remoteAddr, "remote-addr", "http://localhost:8080", "address of the webcamrec server")
	Root.PersistentFlags().StringVar(&token, "token", os.Getenv("WEBCAMREC_TOKEN"), "bearer token")
	Root.PersistentFlags().StringVar(&user, "user", os.Getenv("WEBCAMREC_USER"), "login user, used when no token is given")
	Root.PersistentFlags().StringVar(&pass, "pass", os.Getenv("WEBCAMREC_PASS"), "login password")
}

func printResult(fn func(ctx context.Context) (any, error)) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		result, err := fn(cmd.Context())
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), utils.PrettyPrintJSON(result))
		return err
	}
}

func listSegments(cmd *cobra.Command, args []string) error {
	segments, err := api.Segments(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
	for _, s := range segments {
		fmt.Fprintf(w, "%v\t%v\t%v\n", s["name"], s["size"], s["mod_time"])
	}
	return w.Flush()
}
