// services/midtrans.go
package services

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"league-registration-system/config"
	"league-registration-system/utils"

	midtrans "github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
)

// MidtransClient talks to Snap for checkout and to the Core API for status.
type MidtransClient struct {
	serverKey   string
	env         midtrans.EnvironmentType
	finishURL   string
	httpTimeout time.Duration
	itemName    string

	snap snap.Client
	core coreapi.Client
}

func NewMidtransClient(cfg config.Midtrans, itemName string) *MidtransClient {
	env := midtrans.Sandbox
	if cfg.Production {
		env = midtrans.Production
	}
	return &MidtransClient{
		serverKey:   cfg.ServerKey,
		env:         env,
		finishURL:   strings.TrimRight(cfg.FinishURL, "/"),
		httpTimeout: cfg.CallTimeout,
		itemName:    itemName,
	}
}

// Init validates the key and sets up the SDK clients. The SDK reads its HTTP
// client from a package variable at construction, so it is replaced first.
func (c *MidtransClient) Init(_ context.Context) error {
	if strings.TrimSpace(c.serverKey) == "" {
		return errors.New("midtrans server key is not set")
	}
	midtrans.DefaultGoHttpClient = utils.NewHTTPClient(c.httpTimeout)
	c.snap.New(c.serverKey, c.env)
	c.core.New(c.serverKey, c.env)
	return nil
}

func (c *MidtransClient) Pay(_ context.Context, req PayRequest) (Initiation, error) {
	sreq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.OrderID,
			GrossAmt: req.Amount,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: req.Contact.Name,
			Email: req.Contact.Email,
			Phone: req.Contact.Phone,
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:    req.OrderID,
				Name:  truncate(c.itemName, 50),
				Price: req.Amount,
				Qty:   1,
			},
		},
	}
	if c.finishURL != "" {
		sreq.Callbacks = &snap.Callbacks{Finish: c.finishURL + "/" + req.OrderID}
	}

	resp, merr := c.snap.CreateTransaction(sreq)
	if merr != nil {
		return Initiation{}, midtransError("initiate", merr)
	}
	if resp == nil {
		return Initiation{}, &GatewayError{Kind: GatewayUnknown, Op: "initiate", Err: errors.New("empty snap response")}
	}
	return Initiation{RedirectURL: resp.RedirectURL, GatewayRef: resp.Token}, nil
}

func (c *MidtransClient) OrderStatus(_ context.Context, orderID string) (GatewayStatus, error) {
	resp, merr := c.core.CheckTransaction(orderID)
	if merr != nil {
		// The order exists on our side before the player opens the payment
		// page, so "not found" just means nothing happened yet.
		if merr.StatusCode == http.StatusNotFound {
			return GatewayStatus{State: GatewayPending}, nil
		}
		return GatewayStatus{}, midtransError("query_status", merr)
	}
	if resp == nil {
		return GatewayStatus{}, &GatewayError{Kind: GatewayUnknown, Op: "query_status", Err: errors.New("empty status response")}
	}
	if resp.StatusCode == "404" {
		return GatewayStatus{State: GatewayPending}, nil
	}
	return GatewayStatus{
		State:         MapMidtransStatus(resp.TransactionStatus, resp.FraudStatus),
		TransactionID: resp.TransactionID,
	}, nil
}

// MapMidtransStatus reduces a Midtrans transaction/fraud status pair.
func MapMidtransStatus(transactionStatus, fraudStatus string) GatewayState {
	switch strings.ToLower(transactionStatus) {
	case "settlement":
		return GatewayCompleted
	case "capture":
		if strings.EqualFold(fraudStatus, "accept") {
			return GatewayCompleted
		}
		return GatewayPending
	case "deny", "cancel", "expire", "failure":
		return GatewayFailed
	}
	return GatewayPending
}

func midtransError(op string, merr *midtrans.Error) *GatewayError {
	kind := GatewayUnknown
	switch {
	case merr.StatusCode == 0:
		kind = GatewayUnavailable
		if merr.RawError != nil && isTimeout(merr.RawError) {
			kind = GatewayTimeout
		}
	case merr.StatusCode >= 500:
		kind = GatewayUnavailable
	case merr.StatusCode >= 400:
		kind = GatewayRejected
	}
	return &GatewayError{Kind: kind, Op: op, Err: fmt.Errorf("midtrans: %s", merr.Message)}
}

func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	return errors.As(err, &te) && te.Timeout()
}

// MidtransNotification is the HTTP notification body Midtrans posts.
type MidtransNotification struct {
	TransactionStatus string `json:"transaction_status"`
	StatusCode        string `json:"status_code"`
	SignatureKey      string `json:"signature_key"`
	OrderID           string `json:"order_id"`
	GrossAmount       string `json:"gross_amount"`
	PaymentType       string `json:"payment_type"`
	FraudStatus       string `json:"fraud_status"`
	TransactionID     string `json:"transaction_id"`
}

// VerifySignature checks sha512(order_id+status_code+gross_amount+server_key).
func (n MidtransNotification) VerifySignature(serverKey string) bool {
	if n.SignatureKey == "" || serverKey == "" {
		return false
	}
	want := strings.ToLower(n.SignatureKey)
	got := MidtransSignature(n.OrderID, n.StatusCode, n.GrossAmount, serverKey)
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// Status maps the notification to a gateway status.
func (n MidtransNotification) Status() GatewayStatus {
	return GatewayStatus{
		State:         MapMidtransStatus(n.TransactionStatus, n.FraudStatus),
		TransactionID: n.TransactionID,
	}
}

func MidtransSignature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

func truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	return s[:n]
}
