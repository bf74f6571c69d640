package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Outbid is sent to a leader whose bid was overtaken.
func Outbid(auctionID int64, productName string) Payload {
	return Payload{
		Title: "You have been outbid!",
		Body:  fmt.Sprintf("Someone placed a higher bid on %q.", productName),
		URL:   fmt.Sprintf("/app/auctions/%d", auctionID),
	}
}

// Won is sent to the winner once the order exists.
func Won(orderID int64, productName string, amount decimal.Decimal) Payload {
	return Payload{
		Title: "You won an auction!",
		Body:  fmt.Sprintf("Congratulations! You won the auction for %q for Rp %s.", productName, FormatRupiah(amount)),
		URL:   fmt.Sprintf("/app/orders/%d", orderID),
	}
}

// EndingSoon is sent once per auction to every bidder not currently leading.
func EndingSoon(auctionID int64, productName string) Payload {
	return Payload{
		Title: fmt.Sprintf("Auction for %q is ending soon!", productName),
		Body:  "Place your bid now before it is too late!",
		URL:   fmt.Sprintf("/app/auctions/%d", auctionID),
	}
}

// FormatRupiah renders an amount with Indonesian grouping, e.g. 1.250.000 or 1.250,50.
func FormatRupiah(amount decimal.Decimal) string {
	neg := amount.IsNegative()
	amount = amount.Abs()

	whole := amount.Truncate(0)
	frac := amount.Sub(whole)

	digits := whole.String()
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if !frac.IsZero() {
		b.WriteByte(',')
		b.WriteString(strings.TrimPrefix(frac.StringFixed(2), "0."))
	}
	return b.String()
}
