package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/lanpos/internal/checkout"
	"github.com/roach88/lanpos/internal/pos"
)

// OrderList is the output of the orders command.
type OrderList []pos.Order

// WriteText implements TextWriter.
func (l OrderList) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tUSER\tITEMS\tTOTAL")
	for _, o := range l {
		var units int64
		for _, item := range o.Cart.Items {
			units += item.Quantity
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", o.ID, o.CreatedAt.Format("2006-01-02 15:04:05"), o.UserID, units, o.Total)
	}
	return tw.Flush()
}

// NewOrdersCommand creates the orders command.
func NewOrdersCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "orders",
		Short:         "List recorded orders in insertion order",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			orders, err := loadOrders(cmd, rootOpts)
			if err != nil {
				return err
			}
			return rootOpts.formatter(cmd).Success(OrderList(orders))
		},
	}
}

func loadOrders(cmd *cobra.Command, opts *RootOptions) ([]pos.Order, error) {
	rep, err := opts.openReplica()
	if err != nil {
		return nil, err
	}
	defer opts.closeReplica(rep)

	records, err := rep.Collection(pos.CollectionOrders).Records(commandContext(cmd))
	if err != nil {
		return nil, WrapExitError(ExitFailure, "failed to read orders", err)
	}
	orders := make([]pos.Order, 0, len(records))
	for _, rec := range records {
		o, err := pos.DecodeOrder(rec)
		if err != nil {
			opts.Logger.Warn("skipping undecodable order", "id", rec.ID, "error", err)
			continue
		}
		orders = append(orders, o)
	}
	return orders, nil
}

// Report is the output of the report command.
type Report struct {
	Orders   int                     `json:"orders"`
	Revenue  pos.Money               `json:"revenue"`
	Tax      pos.Money               `json:"tax"`
	Oversold checkout.OversoldReport `json:"oversold"`
}

// WriteText implements TextWriter.
func (r Report) WriteText(w io.Writer) error {
	fmt.Fprintf(w, "Orders:  %d\nRevenue: %s\nTax:     %s\n", r.Orders, r.Revenue, r.Tax)
	if r.Oversold.Empty() {
		_, err := fmt.Fprintln(w, "No oversold products.")
		return err
	}
	fmt.Fprintln(w, "Oversold products (reconcile stock):")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, p := range r.Oversold.Products {
		fmt.Fprintf(tw, "  %s\t%s\tstock %d\tshort %d\n", p.ProductID, p.Name, p.Stock, p.Shortfall)
	}
	return tw.Flush()
}

// NewReportCommand creates the report command.
func NewReportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Summarize sales and list oversold products",
		Long: `Summarize recorded sales and list products whose stock went negative.

Negative stock happens when tills sold the same items while partitioned.
Nothing is corrected automatically; the report is the reconciliation list.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, rootOpts)
		},
	}
}

func runReport(cmd *cobra.Command, opts *RootOptions) error {
	ctx := commandContext(cmd)

	rep, err := opts.openReplica()
	if err != nil {
		return err
	}
	defer opts.closeReplica(rep)

	records, err := rep.Collection(pos.CollectionOrders).Records(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read orders", err)
	}
	var report Report
	for _, rec := range records {
		o, err := pos.DecodeOrder(rec)
		if err != nil {
			opts.Logger.Warn("skipping undecodable order", "id", rec.ID, "error", err)
			continue
		}
		report.Orders++
		report.Revenue += o.Total
		report.Tax += o.Tax
	}

	coord := checkout.NewCoordinator(rep, nil, checkout.WithLogger(opts.Logger))
	if report.Oversold, err = coord.Reconcile(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to reconcile stock", err)
	}
	return opts.formatter(cmd).Success(report)
}
