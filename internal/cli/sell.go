package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/lanpos/internal/cart"
	"github.com/roach88/lanpos/internal/checkout"
	"github.com/roach88/lanpos/internal/pos"
	"github.com/roach88/lanpos/internal/projection"
)

// SellOptions holds flags for the sell command.
type SellOptions struct {
	*RootOptions
	User     string
	PIN      string
	Items    []string
	Pay      []string
	Discount int64
	TaxRate  int64
}

// Receipt is the output of the sell command.
type Receipt struct {
	Order    pos.Order      `json:"order"`
	Warnings []cart.Warning `json:"warnings,omitempty"`
}

// WriteText implements TextWriter.
func (r Receipt) WriteText(w io.Writer) error {
	o := r.Order
	fmt.Fprintf(w, "Order %s  %s\n", o.ID, o.CreatedAt.Format("2006-01-02 15:04:05Z07:00"))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	for _, item := range o.Cart.Items {
		fmt.Fprintf(tw, "%s\t%d x\t%s\t%s\t\n", item.Name, item.Quantity, item.UnitPrice, item.LineTotal())
	}
	fmt.Fprintf(tw, "Subtotal\t\t\t%s\t\n", o.Subtotal)
	fmt.Fprintf(tw, "Tax\t\t\t%s\t\n", o.Tax)
	fmt.Fprintf(tw, "Total\t\t\t%s\t\n", o.Total)
	for _, p := range o.Payments {
		fmt.Fprintf(tw, "Paid (%s)\t\t\t%s\t\n", p.Method, p.Amount)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "Low stock: %s has %d, sold %d\n", warn.Name, warn.InStock, warn.Requested)
	}
	return nil
}

// NewSellCommand creates the sell command.
func NewSellCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SellOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sell",
		Short: "Ring up a sale",
		Long: `Ring up a sale: sign in, fill a cart, take payment and record the order.

Items are product ids with an optional quantity. Payments are a method
(cash or card) and an amount; without --pay the total is taken in cash.
The sale is recorded even when stock runs out, since other tills may be
selling from the same shelf while offline.

Example:
  lanpos sell --db till1.db --user user-1 --pin 1234 --item prod-1:2 --item prod-3
  lanpos sell --db till1.db --user user-1 --pin 1234 --item prod-2 --pay card:3.78`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSell(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "operator user id")
	cmd.Flags().StringVar(&opts.PIN, "pin", "", "operator PIN")
	cmd.Flags().StringArrayVar(&opts.Items, "item", nil, "product to sell as id[:quantity] (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Pay, "pay", nil, "payment as method:amount (repeatable)")
	cmd.Flags().Int64Var(&opts.Discount, "discount", 0, "discount percentage recorded on the order")
	cmd.Flags().Int64Var(&opts.TaxRate, "tax-rate", 0, "tax rate in basis points (default $LANPOS_TAX_RATE_BPS or 800)")

	return cmd
}

func runSell(cmd *cobra.Command, opts *SellOptions) error {
	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	lines, err := parseItems(opts.Items)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --item", err)
	}
	payments, err := parsePayments(opts.Pay)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --pay", err)
	}

	rep, err := opts.openReplica()
	if err != nil {
		return err
	}
	defer opts.closeReplica(rep)

	sess, err := opts.login(ctx, rep, opts.User, opts.PIN)
	if err != nil {
		return err
	}

	products, err := projection.SubscribeProducts(ctx, rep, projection.WithLogger(opts.Logger))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load products", err)
	}
	defer products.Close()

	rate := opts.TaxRate
	if !cmd.Flags().Changed("tax-rate") {
		rate = opts.Config.TaxRateBPS
	}
	c := cart.New(products, cart.WithTaxRate(rate))
	for _, line := range lines {
		if _, ok := products.Product(line.productID); !ok {
			return NewExitError(ExitCommandError, "unknown product "+line.productID)
		}
		c.AddItem(line.productID)
		c.SetQuantity(line.productID, line.quantity)
	}
	c.SetDiscount(opts.Discount)

	warnings := c.StockWarnings()
	for _, w := range warnings {
		out.Warn("%s: %d in stock, selling %d", w.Name, w.InStock, w.Requested)
	}

	if len(payments) == 0 {
		payments = []pos.Payment{{Method: pos.PaymentCash, Amount: c.Total()}}
	}

	coord := checkout.NewCoordinator(rep, sess,
		checkout.WithIDGenerator(opts.IDs),
		checkout.WithClock(opts.Now),
		checkout.WithLogger(opts.Logger),
	)
	order, err := coord.CreateOrder(ctx, c, payments)
	if err != nil {
		_ = out.CheckoutError(err)
		return WrapExitError(ExitFailure, "checkout failed", err)
	}
	return out.Success(Receipt{Order: order, Warnings: warnings})
}

type itemLine struct {
	productID string
	quantity  int64
}

// parseItems parses id[:quantity] arguments. Repeated ids accumulate.
func parseItems(args []string) ([]itemLine, error) {
	var lines []itemLine
	index := make(map[string]int)
	for _, arg := range args {
		id, qty, hasQty := strings.Cut(arg, ":")
		if id == "" {
			return nil, fmt.Errorf("empty product id in %q", arg)
		}
		n := int64(1)
		if hasQty {
			var err error
			if n, err = strconv.ParseInt(qty, 10, 64); err != nil || n < 1 {
				return nil, fmt.Errorf("quantity in %q must be a positive integer", arg)
			}
		}
		if i, ok := index[id]; ok {
			lines[i].quantity += n
			continue
		}
		index[id] = len(lines)
		lines = append(lines, itemLine{productID: id, quantity: n})
	}
	return lines, nil
}

// parsePayments parses method:amount arguments.
func parsePayments(args []string) ([]pos.Payment, error) {
	payments := make([]pos.Payment, 0, len(args))
	for _, arg := range args {
		method, amount, ok := strings.Cut(arg, ":")
		if !ok {
			return nil, fmt.Errorf("%q is not method:amount", arg)
		}
		m, err := pos.ParseMoney(amount)
		if err != nil {
			return nil, err
		}
		payments = append(payments, pos.Payment{Method: pos.PaymentMethod(method), Amount: m})
	}
	return payments, nil
}
