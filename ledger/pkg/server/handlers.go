package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"github.com/malbeclabs/poolparty/ledger/pkg/pool"
)

const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type PaginatedResponse[T any] struct {
	Items  []T `json:"items"`
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

func parsePagination(r *http.Request) (limit, offset int) {
	limit = DefaultLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, MaxLimit)
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}
	return limit, offset
}

func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

func dec(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}

type PoolResponse struct {
	Address            common.Address   `json:"address"`
	State              string           `json:"state"`
	Admins             []common.Address `json:"admins"`
	Payee              common.Address   `json:"payee"`
	FeeRecipient       common.Address   `json:"fee_recipient"`
	FeePaidInTokens    bool             `json:"fee_paid_in_tokens"`
	WhitelistEnabled   bool             `json:"whitelist_enabled"`
	MaxAllocation      string           `json:"max_allocation"`
	MinContribution    string           `json:"min_contribution"`
	MaxContribution    string           `json:"max_contribution"`
	TotalRaised        string           `json:"total_raised"`
	DistributionBase   string           `json:"distribution_base"`
	AdminFeeCollected  string           `json:"admin_fee_collected"`
	AdminFeeRetained   string           `json:"admin_fee_retained"`
	ParticipantCount   int              `json:"participant_count"`
	TokenCount         int              `json:"token_count"`
	ReimbursementTotal string           `json:"reimbursement_total"`
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	p := s.pool
	limits := p.Limits()
	s.writeJSON(w, http.StatusOK, PoolResponse{
		Address:            p.Address(),
		State:              p.State().String(),
		Admins:             p.Admins(),
		Payee:              p.Payee(),
		FeeRecipient:       p.FeeRecipient(),
		FeePaidInTokens:    p.FeePaidInTokens(),
		WhitelistEnabled:   p.WhitelistEnabled(),
		MaxAllocation:      dec(limits.MaxAllocation),
		MinContribution:    dec(limits.MinContribution),
		MaxContribution:    dec(limits.MaxContribution),
		TotalRaised:        dec(p.TotalRaised()),
		DistributionBase:   dec(p.DistributionBase()),
		AdminFeeCollected:  dec(p.AdminFeeCollected()),
		AdminFeeRetained:   dec(p.AdminFeeRetained()),
		ParticipantCount:   p.ParticipantCount(),
		TokenCount:         p.TokenCount(),
		ReimbursementTotal: dec(p.ReimbursementTotal()),
	})
}

type ParticipantResponse struct {
	Address        common.Address `json:"address"`
	Contributed    string         `json:"contributed"`
	Held           string         `json:"held"`
	Refunded       bool           `json:"refunded"`
	RefundedAmount string         `json:"refunded_amount"`
	Whitelisted    bool           `json:"whitelisted"`
}

func (s *Server) participantResponse(part pool.Participant) ParticipantResponse {
	return ParticipantResponse{
		Address:        part.Address,
		Contributed:    dec(part.Contributed),
		Held:           dec(part.Held),
		Refunded:       part.Refunded,
		RefundedAmount: dec(part.RefundedAmount),
		Whitelisted:    s.pool.IsWhitelisted(part.Address),
	}
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	all := s.pool.Participants()

	start := min(offset, len(all))
	end := min(start+limit, len(all))
	items := make([]ParticipantResponse, 0, end-start)
	for _, part := range all[start:end] {
		items = append(items, s.participantResponse(part))
	}
	s.writeJSON(w, http.StatusOK, PaginatedResponse[ParticipantResponse]{
		Items:  items,
		Total:  len(all),
		Limit:  limit,
		Offset: offset,
	})
}

type TokenPosition struct {
	Token     common.Address `json:"token"`
	Claimed   string         `json:"claimed"`
	Claimable string         `json:"claimable"`
}

type ParticipantDetailResponse struct {
	ParticipantResponse
	Tokens                 []TokenPosition `json:"tokens"`
	Reimbursed             string          `json:"reimbursed"`
	ReimbursementClaimable string          `json:"reimbursement_claimable"`
}

func (s *Server) handleParticipant(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(chi.URLParam(r, "address"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	part, ok := s.pool.Participant(addr)
	if !ok {
		s.writeError(w, http.StatusNotFound, "participant not found")
		return
	}

	resp := ParticipantDetailResponse{
		ParticipantResponse:    s.participantResponse(part),
		Tokens:                 []TokenPosition{},
		Reimbursed:             dec(s.pool.Reimbursed(addr)),
		ReimbursementClaimable: dec(s.pool.ReimbursementClaimable(addr)),
	}
	for _, token := range s.pool.Tokens() {
		claimable, err := s.pool.Claimable(r.Context(), token, addr)
		if err != nil {
			s.log.Error("server: failed to compute claimable", "token", token.Hex(), "address", addr.Hex(), "error", err)
			s.writeError(w, http.StatusBadGateway, "failed to read token balance")
			return
		}
		resp.Tokens = append(resp.Tokens, TokenPosition{
			Token:     token,
			Claimed:   dec(s.pool.Claimed(token, addr)),
			Claimable: dec(claimable),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type TokenResponse struct {
	Token       common.Address `json:"token"`
	Distributed string         `json:"distributed"`
}

func (s *Server) handleTokens(w http.ResponseWriter, r *http.Request) {
	tokens := s.pool.Tokens()
	items := make([]TokenResponse, 0, len(tokens))
	for _, token := range tokens {
		items = append(items, TokenResponse{Token: token, Distributed: dec(s.pool.Distributed(token))})
	}
	s.writeJSON(w, http.StatusOK, items)
}

type ClaimResponse struct {
	Address   common.Address `json:"address"`
	Claimed   string         `json:"claimed"`
	Claimable string         `json:"claimable"`
}

type TokenClaimsResponse struct {
	Token       common.Address  `json:"token"`
	Distributed string          `json:"distributed"`
	Claims      []ClaimResponse `json:"claims"`
}

func (s *Server) handleTokenClaims(w http.ResponseWriter, r *http.Request) {
	token, ok := parseAddress(chi.URLParam(r, "token"))
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid token address")
		return
	}
	registered := false
	for _, t := range s.pool.Tokens() {
		if t == token {
			registered = true
			break
		}
	}
	if !registered {
		s.writeError(w, http.StatusNotFound, "token not registered")
		return
	}

	resp := TokenClaimsResponse{
		Token:       token,
		Distributed: dec(s.pool.Distributed(token)),
		Claims:      []ClaimResponse{},
	}
	for _, part := range s.pool.Participants() {
		claimable, err := s.pool.Claimable(r.Context(), token, part.Address)
		if err != nil {
			s.log.Error("server: failed to compute claimable", "token", token.Hex(), "address", part.Address.Hex(), "error", err)
			s.writeError(w, http.StatusBadGateway, "failed to read token balance")
			return
		}
		resp.Claims = append(resp.Claims, ClaimResponse{
			Address:   part.Address,
			Claimed:   dec(s.pool.Claimed(token, part.Address)),
			Claimable: dec(claimable),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type RoundResponse struct {
	Number uint64    `json:"number"`
	Value  string    `json:"value"`
	At     time.Time `json:"at"`
}

type ReimbursementPosition struct {
	Address    common.Address `json:"address"`
	Reimbursed string         `json:"reimbursed"`
	Claimable  string         `json:"claimable"`
}

type ReimbursementsResponse struct {
	Total        string                  `json:"total"`
	Rounds       []RoundResponse         `json:"rounds"`
	Participants []ReimbursementPosition `json:"participants"`
}

func (s *Server) handleReimbursements(w http.ResponseWriter, r *http.Request) {
	resp := ReimbursementsResponse{
		Total:        dec(s.pool.ReimbursementTotal()),
		Rounds:       []RoundResponse{},
		Participants: []ReimbursementPosition{},
	}
	for _, round := range s.pool.Rounds() {
		resp.Rounds = append(resp.Rounds, RoundResponse{Number: round.Number, Value: dec(round.Value), At: round.At})
	}
	for _, part := range s.pool.Participants() {
		resp.Participants = append(resp.Participants, ReimbursementPosition{
			Address:    part.Address,
			Reimbursed: dec(s.pool.Reimbursed(part.Address)),
			Claimable:  dec(s.pool.ReimbursementClaimable(part.Address)),
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}
