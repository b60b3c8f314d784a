package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/and161185/larder/internal/model"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printItems writes one row per item. Rows owned by an account are marked
// synced; ownerless rows exist only on this device.
func printItems(w io.Writer, items []model.Item, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tQTY\tLOCATION\tEXPIRES\tSTATE")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			it.ID, it.Name, quantity(it), model.Deref(it.Location), expiry(it, now), state(it))
	}
	return tw.Flush()
}

func printItem(w io.Writer, it model.Item, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	row := func(k, v string) {
		if v != "" {
			fmt.Fprintf(tw, "%s:\t%s\n", k, v)
		}
	}
	row("id", it.ID)
	row("name", it.Name)
	row("quantity", quantity(it))
	row("barcode", model.Deref(it.Barcode))
	row("location", model.Deref(it.Location))
	row("purchased", model.Deref(it.PurchaseDate))
	row("expires", expiry(it, now))
	row("notes", model.Deref(it.Notes))
	row("owner", model.Deref(it.OwnerID))
	if it.UpdatedAt != nil {
		row("updated", it.UpdatedAt.Local().Format(time.RFC3339))
	}
	return tw.Flush()
}

func quantity(it model.Item) string {
	if it.Quantity == nil {
		return ""
	}
	q := strconv.FormatFloat(*it.Quantity, 'f', -1, 64)
	if it.Unit != nil {
		q += " " + *it.Unit
	}
	return q
}

func expiry(it model.Item, now time.Time) string {
	if it.ExpiryDate == nil {
		return ""
	}
	days, ok := daysLeft(*it.ExpiryDate, now)
	switch {
	case !ok:
		return *it.ExpiryDate
	case days < 0:
		return *it.ExpiryDate + " (expired)"
	case days == 0:
		return *it.ExpiryDate + " (today)"
	case days <= 3:
		return fmt.Sprintf("%s (%dd)", *it.ExpiryDate, days)
	default:
		return *it.ExpiryDate
	}
}

func state(it model.Item) string {
	if it.OwnerID == nil {
		return "local"
	}
	return "synced"
}
