package cli

import (
	"errors"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/GabrielNunesIT/edge-events/internal/model"
)

// errQueryFailed marks an unsuccessful response that was already printed.
var errQueryFailed = errors.New("query failed")

// NewQueryCmd creates the query command.
func NewQueryCmd(flags *rootFlags) *cobra.Command {
	var filter string

	cmd := &cobra.Command{
		Use:   "query [base64 filter]",
		Short: "Query stored events",
		Long: `Run a filter against the configured backend and print the response.

The filter is either a base64-encoded JSON document given as the argument
or plain JSON given with --filter:

  {"startTime":1705300000,"conditions":[{"property":"Browser","operator":"!=","value":"Chrome"}],"page":1}`,
		Example: `  edge-events query eyJwYWdlIjoxfQ==
  edge-events query --filter '{"conditions":[{"property":"User ID","operator":"exists"}]}'`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (filter == "") == (len(args) == 0) {
				return errors.New("pass either a base64 filter argument or --filter")
			}

			a, err := setup(flags)
			if err != nil {
				return err
			}
			defer a.log.Sync()

			s, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			svc := a.newQueryService(s)

			var resp model.Response
			if filter != "" {
				raw, err := model.ParseRawFilter([]byte(filter))
				if err != nil {
					resp = model.NewResponse()
					var verr *model.ValidationError
					if errors.As(err, &verr) {
						resp.Fail(verr.Problems...)
					} else {
						resp.Fail(err.Error())
					}
				} else {
					resp = svc.HandleRaw(cmd.Context(), raw)
				}
			} else {
				resp = svc.Handle(cmd.Context(), strings.TrimSpace(args[0]))
			}

			out, err := json.MarshalIndent(resp, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			if !resp.Success {
				return errQueryFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&filter, "filter", "", "filter as plain JSON")
	return cmd
}
