package main

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	baseURL string
	timeout time.Duration
}

func (o *rootOptions) client() *client {
	return newClient(o.baseURL, o.timeout)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "circulation-sim",
		Short:         "Drive the circulation service from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", getenv("BASE_URL", "http://localhost:8080"), "circulation service base url")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "request timeout")

	cmd.AddCommand(
		newBorrowCmd(opts, "loan", "/api/v1/loans", "Lend items starting today"),
		newBorrowCmd(opts, "request", "/api/v1/requests", "Request items for a future range"),
		newItemsCmd(opts, "return", "/api/v1/returns", "Return items on loan", false),
		newItemsCmd(opts, "lose", "/api/v1/items/lose", "Mark items as lost", false),
		newItemsCmd(opts, "return-missing", "/api/v1/items/return-missing", "Bring missing items back on shelf", false),
		newItemsCmd(opts, "process", "/api/v1/items/process", "Send items to processing", true),
		newItemsCmd(opts, "return-processed", "/api/v1/items/return-processed", "Bring processed items back on shelf", false),
		newCancelCmd(opts),
		newExtendCmd(opts),
		newReservationsCmd(opts, "transform", "/api/v1/reservations/transform", "Turn requests into loans"),
		newReservationsCmd(opts, "overdue", "/api/v1/reservations/overdue", "Flag loans as overdue"),
		newAvailabilityCmd(opts),
		newListCmd(opts),
		newDeskListCmd(opts),
		newSeedCmd(opts),
	)
	return cmd
}

func newBorrowCmd(opts *rootOptions, use, path, short string) *cobra.Command {
	var body struct {
		UserID   string   `json:"user_id"`
		ItemIDs  []string `json:"item_ids"`
		Start    string   `json:"start"`
		End      string   `json:"end"`
		Waitlist bool     `json:"waitlist"`
		Delivery string   `json:"delivery,omitempty"`
		DryRun   bool     `json:"dry_run"`
	}
	cmd := &cobra.Command{
		Use:   use + " [item-id...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body.ItemIDs = args
			return opts.client().do(cmd.Context(), cmd.OutOrStdout(), http.MethodPost, path, nil, body)
		},
	}
	cmd.Flags().StringVar(&body.UserID, "user", "", "patron id")
	cmd.Flags().StringVar(&body.Start, "start", time.Now().UTC().Format(time.DateOnly), "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&body.End, "end", "", "last day (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&body.Waitlist, "waitlist", false, "accept a shortened range")
	cmd.Flags().StringVar(&body.Delivery, "delivery", "", "pickup or mail")
	cmd.Flags().BoolVar(&body.DryRun, "dry-run", false, "validate without writing")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newItemsCmd(opts *rootOptions, use, path, short string, withDescription bool) *cobra.Command {
	var body struct {
		ItemIDs     []string `json:"item_ids"`
		Description string   `json:"description,omitempty"`
		DryRun      bool     `json:"dry_run"`
	}
	cmd := &cobra.Command{
		Use:   use + " [item-id...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body.ItemIDs = args
			return opts.client().do(cmd.Context(), cmd.OutOrStdout(), http.MethodPost, path, nil, body)
		},
	}
	if withDescription {
		cmd.Flags().StringVar(&body.Description, "description", "", "processing note")
	}
	cmd.Flags().BoolVar(&body.DryRun, "dry-run", false, "validate without writing")
	return cmd
}

func newCancelCmd(opts *rootOptions) *cobra.Command {
	var body struct {
		ReservationIDs []string `json:"reservation_ids"`
		Reason         string   `json:"reason,omitempty"`
		DryRun         bool     `json:"dry_run"`
	}
	cmd := &cobra.Command{
		Use:   "cancel [reservation-id...]",
		Short: "Cancel requests or loans",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body.ReservationIDs = args
			return opts.client().do(cmd.Context(), cmd.OutOrStdout(), http.MethodPost, "/api/v1/reservations/cancel", nil, body)
		},
	}
	cmd.Flags().StringVar(&body.Reason, "reason", "", "cancellation reason")
	cmd.Flags().BoolVar(&body.DryRun, "dry-run", false, "validate without writing")
	return cmd
}

func newExtendCmd(opts *rootOptions) *cobra.Command {
	var body struct {
		ReservationIDs []string `json:"reservation_ids"`
		End            string   `json:"end"`
		Waitlist       bool     `json:"waitlist"`
		DryRun         bool     `json:"dry_run"`
	}
	cmd := &cobra.Command{
		Use:   "extend [reservation-id...]",
		Short: "Move the end of running loans",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body.ReservationIDs = args
			return opts.client().do(cmd.Context(), cmd.OutOrStdout(), http.MethodPost, "/api/v1/reservations/extend", nil, body)
		},
	}
	cmd.Flags().StringVar(&body.End, "end", "", "new last day (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&body.Waitlist, "waitlist", false, "accept a shorter extension")
	cmd.Flags().BoolVar(&body.DryRun, "dry-run", false, "validate without writing")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newReservationsCmd(opts *rootOptions, use, path, short string) *cobra.Command {
	var body struct {
		ReservationIDs []string `json:"reservation_ids"`
		DryRun         bool     `json:"dry_run"`
	}
	cmd := &cobra.Command{
		Use:   use + " [reservation-id...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body.ReservationIDs = args
			return opts.client().do(cmd.Context(), cmd.OutOrStdout(), http.MethodPost, path, nil, body)
		},
	}
	cmd.Flags().BoolVar(&body.DryRun, "dry-run", false, "validate without writing")
	return cmd
}

func newAvailabilityCmd(opts *rootOptions) *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "availability [item-id]",
		Short: "Check whether an item is free for a range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{"item_id": {args[0]}, "start": {start}, "end": {end}}
			return opts.client().do(cmd.Context(), cmd.OutOrStdout(), http.MethodGet, "/api/v1/items/availability", q, nil)
		},
	}
	cmd.Flags().StringVar(&start, "start", time.Now().UTC().Format(time.DateOnly), "first day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last day (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var itemID, userID, status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reservations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			q := url.Values{}
			if itemID != "" {
				q.Set("item_id", itemID)
			}
			if userID != "" {
				q.Set("user_id", userID)
			}
			if status != "" {
				q.Set("status", status)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			return opts.client().do(cmd.Context(), cmd.OutOrStdout(), http.MethodGet, "/api/v1/reservations", q, nil)
		},
	}
	cmd.Flags().StringVar(&itemID, "item", "", "item id")
	cmd.Flags().StringVar(&userID, "user", "", "patron id")
	cmd.Flags().StringVar(&status, "status", "", "comma separated statuses")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	return cmd
}

func newDeskListCmd(opts *rootOptions) *cobra.Command {
	var start, end string
	var limit int
	cmd := &cobra.Command{
		Use:       "desk-list NAME",
		Short:     "Show a circulation desk list",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on_shelf_pending_requests", "on_loan_pending_requests", "overdue_pending_requests", "overdue_items", "latest_loans"},
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("name", args[0])
			if start != "" {
				q.Set("start", start)
			}
			if end != "" {
				q.Set("end", end)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			return opts.client().do(cmd.Context(), cmd.OutOrStdout(), http.MethodGet, "/api/v1/lists", q, nil)
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first start date for latest_loans (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "last start date for latest_loans (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows")
	return cmd
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Register catalog records",
	}

	var item struct {
		ID           string `json:"id"`
		Barcode      string `json:"barcode,omitempty"`
		Title        string `json:"title,omitempty"`
		ItemType     string `json:"item_type,omitempty"`
		LocationCode string `json:"location_code,omitempty"`
		Status       string `json:"status,omitempty"`
	}
	itemCmd := &cobra.Command{
		Use:   "item [item-id]",
		Short: "Create or replace an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			item.ID = args[0]
			return opts.client().do(cmd.Context(), cmd.OutOrStdout(), http.MethodPut, "/api/v1/items", nil, item)
		},
	}
	itemCmd.Flags().StringVar(&item.Barcode, "barcode", "", "barcode")
	itemCmd.Flags().StringVar(&item.Title, "title", "", "title")
	itemCmd.Flags().StringVar(&item.ItemType, "type", "", "item type")
	itemCmd.Flags().StringVar(&item.LocationCode, "location", "", "location code")
	itemCmd.Flags().StringVar(&item.Status, "status", "", "initial status")

	var patron struct {
		ID         string `json:"id"`
		Name       string `json:"name,omitempty"`
		Email      string `json:"email,omitempty"`
		PatronType string `json:"patron_type,omitempty"`
	}
	patronCmd := &cobra.Command{
		Use:   "patron [user-id]",
		Short: "Create or replace a patron",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patron.ID = args[0]
			return opts.client().do(cmd.Context(), cmd.OutOrStdout(), http.MethodPut, "/api/v1/patrons", nil, patron)
		},
	}
	patronCmd.Flags().StringVar(&patron.Name, "name", "", "display name")
	patronCmd.Flags().StringVar(&patron.Email, "email", "", "email")
	patronCmd.Flags().StringVar(&patron.PatronType, "type", "", "patron type")

	cmd.AddCommand(itemCmd, patronCmd)
	return cmd
}
