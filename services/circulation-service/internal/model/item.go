package model

import "fmt"

type ItemStatus string

const (
	ItemOnShelf   ItemStatus = "on_shelf"
	ItemOnLoan    ItemStatus = "on_loan"
	ItemInProcess ItemStatus = "in_process"
	ItemMissing   ItemStatus = "missing"
)

func ParseItemStatus(s string) (ItemStatus, error) {
	switch ItemStatus(s) {
	case ItemOnShelf, ItemOnLoan, ItemInProcess, ItemMissing:
		return ItemStatus(s), nil
	}
	return "", fmt.Errorf("unknown item status %q", s)
}

type Item struct {
	ID           string
	Barcode      string
	Title        string
	ItemType     string
	LocationCode string
	Status       ItemStatus
	// Description holds the last processing note.
	Description string
}

type User struct {
	ID         string
	Name       string
	Email      string
	PatronType string
}
