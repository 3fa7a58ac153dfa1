package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MembershipClient asks the chat front end whether an account has joined a
// channel. The front end answers GET <base>?channel=@name&account_id=N with
// {"member": true|false}.
type MembershipClient struct {
	base   string
	client *http.Client
}

// NewMembershipClient queries baseURL with the given per-request timeout.
func NewMembershipClient(baseURL string, timeout time.Duration) *MembershipClient {
	return &MembershipClient{base: baseURL, client: &http.Client{Timeout: timeout}}
}

type membershipReply struct {
	Member bool `json:"member"`
}

// IsMember implements services.MembershipChecker.
func (m *MembershipClient) IsMember(ctx context.Context, channel string, accountID int64) (bool, error) {
	ctx, span := otel.Tracer("delivery/MembershipClient").Start(ctx, "IsMember",
		trace.WithAttributes(attribute.String("channel", channel), attribute.Int64("user.id", accountID)),
	)
	defer span.End()

	u, err := url.Parse(m.base)
	if err != nil {
		return false, fmt.Errorf("membership url: %w", err)
	}
	q := u.Query()
	q.Set("channel", channel)
	q.Set("account_id", strconv.FormatInt(accountID, 10))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := m.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("membership lookup: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("membership lookup: status %d", resp.StatusCode)
	}
	var reply membershipReply
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&reply); err != nil {
		return false, fmt.Errorf("membership lookup: decode: %w", err)
	}
	return reply.Member, nil
}
