package edgex

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/SoYuCry/dex-funding-hub/internal/model"
	"github.com/SoYuCry/dex-funding-hub/internal/reader"
	"github.com/SoYuCry/dex-funding-hub/internal/symbols"
	"github.com/SoYuCry/dex-funding-hub/logger"
)

const tickerChannel = "ticker.all.1s"

var errEmptyStream = errors.New("funding stream returned no data")

type streamFrame struct {
	Type    string          `json:"type"`
	Time    json.RawMessage `json:"time"`
	Content struct {
		Data []streamItem `json:"data"`
	} `json:"content"`
}

type pongFrame struct {
	Type string          `json:"type"`
	Time json.RawMessage `json:"time,omitempty"`
}

type streamItem struct {
	ContractName     string        `json:"contractName"`
	Symbol           string        `json:"symbol"`
	ContractID       flexString    `json:"contractId"`
	FundingRate      reader.Number `json:"fundingRate"`
	FundingTime      reader.Number `json:"fundingTime"`
	FundingTimestamp reader.Number `json:"fundingTimestamp"`
	Time             reader.Number `json:"time"`
}

func (it streamItem) name() string {
	switch {
	case it.ContractName != "":
		return it.ContractName
	case it.Symbol != "":
		return it.Symbol
	default:
		return string(it.ContractID)
	}
}

func (it streamItem) timestamp() int64 {
	for _, n := range []reader.Number{it.FundingTime, it.FundingTimestamp, it.Time} {
		if ts, ok := n.Int64(); ok && ts > 0 {
			return ts
		}
	}
	return time.Now().UnixMilli()
}

// fetchStream subscribes to the all-tickers channel and returns the first
// frame that carries funding rates. It gives up after WSEmptyFrames frames
// without usable data, each read bounded by WSReadTimeout. Pings do not use
// up the frame budget, so the whole listen is also capped at
// WSEmptyFrames * WSReadTimeout.
func (a *Adapter) fetchStream(ctx context.Context) ([]model.RawFundingItem, error) {
	log := a.log.WithComponent(component)

	contracts, err := a.contracts(ctx)
	if err != nil {
		log.WithError(err).Warn("metadata unavailable, stream results are not filtered")
	}
	visible := visibleIndex(contracts)

	conn, _, err := a.dialer.DialContext(ctx, a.cfg.WSURL, a.handshakeHeader())
	if err != nil {
		return nil, reader.Upstream(model.EdgeX, "stream dial", err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(map[string]string{"type": "subscribe", "channel": tickerChannel}); err != nil {
		return nil, reader.Upstream(model.EdgeX, "stream subscribe", err)
	}

	budget := a.cfg.WSEmptyFrames
	if budget <= 0 {
		budget = 1
	}
	readTimeout := a.cfg.WSReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}

	listenUntil := time.Now().Add(readTimeout * time.Duration(budget))

	for empty := 0; empty < budget; {
		if !time.Now().Before(listenUntil) {
			break
		}
		deadline := time.Now().Add(readTimeout)
		if deadline.After(listenUntil) {
			deadline = listenUntil
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			return nil, reader.Upstream(model.EdgeX, "stream read", err)
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return nil, reader.Upstream(model.EdgeX, "stream read", err)
		}

		var frame streamFrame
		if err := json.Unmarshal(msg, &frame); err != nil {
			log.WithError(err).Debug("undecodable stream frame")
			empty++
			continue
		}

		switch frame.Type {
		case "ping":
			if err := conn.WriteJSON(pongFrame{Type: "pong", Time: frame.Time}); err != nil {
				return nil, reader.Upstream(model.EdgeX, "stream pong", err)
			}
			continue
		case "payload", "quote-event":
		default:
			empty++
			continue
		}

		if items := streamItems(frame.Content.Data, visible); len(items) > 0 {
			return items, nil
		}
		empty++
	}

	log.WithFields(logger.Fields{"frames": budget, "listen": time.Duration(budget) * readTimeout}).Debug("stream budget exhausted")
	return nil, &reader.UpstreamError{Exchange: model.EdgeX, Op: "stream", Err: errEmptyStream}
}

// streamItems maps ticker entries to raw items. Placeholder TEMP contracts
// are dropped and, when visible is non-empty, so is anything not listed in it.
func streamItems(data []streamItem, visible map[string]contract) []model.RawFundingItem {
	items := make([]model.RawFundingItem, 0, len(data))
	for _, it := range data {
		name := it.name()
		if name == "" || strings.HasPrefix(name, "TEMP") || !it.FundingRate.Valid {
			continue
		}

		item := model.RawFundingItem{
			Exchange:  model.EdgeX,
			Symbol:    name,
			Rate:      it.FundingRate.Ptr(),
			Timestamp: it.timestamp(),
		}
		if len(visible) > 0 {
			c, ok := visible[symbols.Normalize(name)]
			if !ok {
				continue
			}
			item.IntervalHours = c.intervalHours()
		}
		items = append(items, item)
	}
	return items
}

func (a *Adapter) handshakeHeader() http.Header {
	header := a.client.Header()
	if a.userAgent != "" {
		header.Set("User-Agent", a.userAgent)
	}
	cookies := a.client.Cookies()
	if len(cookies) > 0 {
		parts := make([]string, 0, len(cookies))
		for _, c := range cookies {
			parts = append(parts, c.Name+"="+c.Value)
		}
		header.Set("Cookie", strings.Join(parts, "; "))
	}
	return header
}
