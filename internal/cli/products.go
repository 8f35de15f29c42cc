package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/roach88/lanpos/internal/catalog"
	"github.com/roach88/lanpos/internal/pos"
)

// ProductList is the output of the products command.
type ProductList []pos.Product

// WriteText implements TextWriter.
func (l ProductList) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSKU\tNAME\tPRICE\tSTOCK")
	for _, p := range l {
		stock := fmt.Sprint(p.Stock)
		if p.Stock < 0 {
			stock += " (oversold)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.SKU, p.Name, p.Price, stock)
	}
	return tw.Flush()
}

// NewProductsCommand creates the products command and its add subcommand.
func NewProductsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "products",
		Short:         "List the catalog with current stock",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProducts(cmd, rootOpts)
		},
	}
	cmd.AddCommand(NewProductAddCommand(rootOpts))
	return cmd
}

func runProducts(cmd *cobra.Command, opts *RootOptions) error {
	rep, err := opts.openReplica()
	if err != nil {
		return err
	}
	defer opts.closeReplica(rep)

	records, err := rep.Collection(pos.CollectionProducts).Records(commandContext(cmd))
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read products", err)
	}
	list := make(ProductList, 0, len(records))
	for _, rec := range records {
		p, err := pos.DecodeProduct(rec)
		if err != nil {
			opts.Logger.Warn("skipping undecodable product", "id", rec.ID, "error", err)
			continue
		}
		list = append(list, p)
	}
	return opts.formatter(cmd).Success(list)
}

// ProductAddOptions holds flags for the products add command.
type ProductAddOptions struct {
	*RootOptions
	User     string
	PIN      string
	Name     string
	Price    string
	Stock    int64
	Category string
	SKU      string
	Image    string
}

// NewProductAddCommand creates the products add command.
func NewProductAddCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProductAddOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a product to the catalog (manager or admin)",
		Long: `Add a product to the catalog. The operator must be a manager or admin.

Example:
  lanpos products add --user user-2 --pin 5678 \
    --name "Flat White" --price 3.75 --stock 40 --category cat-1 --sku BEV004`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProductAdd(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.User, "user", "", "operator user id")
	cmd.Flags().StringVar(&opts.PIN, "pin", "", "operator PIN")
	cmd.Flags().StringVar(&opts.Name, "name", "", "product name")
	cmd.Flags().StringVar(&opts.Price, "price", "", "unit price, e.g. 3.75")
	cmd.Flags().Int64Var(&opts.Stock, "stock", 0, "initial stock")
	cmd.Flags().StringVar(&opts.Category, "category", "", "category id")
	cmd.Flags().StringVar(&opts.SKU, "sku", "", "stock keeping unit")
	cmd.Flags().StringVar(&opts.Image, "image", "", "image URL (default: placeholder from SKU)")

	return cmd
}

func runProductAdd(cmd *cobra.Command, opts *ProductAddOptions) error {
	ctx := commandContext(cmd)
	out := opts.formatter(cmd)

	price, err := pos.ParseMoney(opts.Price)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid --price", err)
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
	if !sess.CurrentRole().CanManageCatalog() {
		_ = out.Error("FORBIDDEN", "only managers and admins can add products", nil)
		return NewExitError(ExitFailure, "forbidden")
	}

	product, err := catalog.AddProduct(ctx, rep, opts.IDs, catalog.ProductInput{
		Name:       opts.Name,
		Price:      price,
		Stock:      opts.Stock,
		CategoryID: opts.Category,
		SKU:        opts.SKU,
		ImageURL:   opts.Image,
	})
	if err != nil {
		var verrs validator.ValidationErrors
		switch {
		case errors.As(err, &verrs):
			_ = out.Error("INVALID_PRODUCT", "product failed validation", verrs.Error())
		case errors.Is(err, catalog.ErrUnknownCategory):
			_ = out.Error("UNKNOWN_CATEGORY", err.Error(), nil)
		case errors.Is(err, catalog.ErrDuplicateSKU):
			_ = out.Error("DUPLICATE_SKU", err.Error(), nil)
		}
		return WrapExitError(ExitFailure, "add product failed", err)
	}
	return out.Success(ProductList{product})
}
