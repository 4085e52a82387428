package mockboltz

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ArkLabsHQ/lnswap/pkg/boltz"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gorilla/websocket"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	log "github.com/sirupsen/logrus"
)

const (
	defaultInvoiceExpiry = time.Hour
	defaultTimeoutBlocks = 144
	defaultMinerFeeSat   = 200
	defaultWriteBuffer   = 256
)

type Config struct {
	ListenAddr           string
	Network              *chaincfg.Params
	AutoSwapCreatedDelay time.Duration
	MinAmount            uint64
	MaxAmount            uint64
	ServiceFeePPM        uint64
	MinerFeeSat          uint64
	// WriteBufferSize bounds the websocket frame size, larger messages are
	// sent fragmented.
	WriteBufferSize int
}

type SwapState struct {
	ID                 string
	From               boltz.Currency
	To                 boltz.Currency
	CreatedAt          time.Time
	InvoiceAmount      uint64
	PreimageHash       string
	ClaimPublicKey     string
	Address            string
	Invoice            string
	LockupAddress      string
	TimeoutBlockHeight uint32
	LastStatus         string
}

type wsClient struct {
	subs map[string]struct{}
	mu   sync.Mutex
}

// Server is an in-process stand-in for the swap service covering the reverse
// swap REST endpoints and the push channel.
type Server struct {
	cfg Config

	mu         sync.RWMutex
	swaps      map[string]*SwapState
	broadcasts []string
	requests   []boltz.CreateReverseSwapRequest
	createErr  string
	badInvoice bool

	wsMu      sync.RWMutex
	wsClients map[*websocket.Conn]*wsClient
	upgrader  websocket.Upgrader

	accepted atomic.Int64
	pings    atomic.Int64

	privateKey *btcec.PrivateKey
	nodeKey    *btcec.PrivateKey

	httpServer *http.Server
	listener   net.Listener
}

func New(cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	if cfg.Network == nil {
		cfg.Network = &chaincfg.MainNetParams
	}
	if cfg.MinAmount == 0 {
		cfg.MinAmount = 1000
	}
	if cfg.MaxAmount == 0 {
		cfg.MaxAmount = 25_000_000
	}
	if cfg.ServiceFeePPM == 0 {
		cfg.ServiceFeePPM = 2500 // 0.25%
	}
	if cfg.MinerFeeSat == 0 {
		cfg.MinerFeeSat = defaultMinerFeeSat
	}
	if cfg.WriteBufferSize == 0 {
		cfg.WriteBufferSize = defaultWriteBuffer
	}

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("new server private key: %w", err)
	}
	nodeKey, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("new node key: %w", err)
	}

	return &Server{
		cfg:       cfg,
		swaps:     make(map[string]*SwapState),
		wsClients: make(map[*websocket.Conn]*wsClient),
		upgrader: websocket.Upgrader{
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		privateKey: priv,
		nodeKey:    nodeKey,
	}, nil
}

func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/v2/ws", s.handleWS)
	mux.HandleFunc("/v2/swap/reverse", s.handleReverse)
	mux.HandleFunc("/v2/chain/", s.handleBroadcast)
	mux.HandleFunc("/admin/swaps/", s.handleAdminSwap)

	s.httpServer = &http.Server{Handler: mux}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("mock boltz server stopped unexpectedly")
		}
	}()

	return nil
}

func (s *Server) Stop() error {
	s.DropConnections()

	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// URL is the REST base url, without the /v2 prefix.
func (s *Server) URL() string {
	return "http://" + s.listener.Addr().String()
}

func (s *Server) WSURL() string {
	return "ws://" + s.listener.Addr().String() + "/v2/ws"
}

// NodeKey is the key the mock signs invoices with.
func (s *Server) NodeKey() *btcec.PrivateKey {
	return s.nodeKey
}

// PushUpdate sends a swap.update event to every connection subscribed to id.
func (s *Server) PushUpdate(id, status string, tx *boltz.SwapTransaction) error {
	return s.PushUpdateWithReason(id, status, tx, "")
}

func (s *Server) PushUpdateWithReason(
	id, status string, tx *boltz.SwapTransaction, failureReason string,
) error {
	s.mu.Lock()
	if st, ok := s.swaps[id]; ok {
		st.LastStatus = status
	}
	s.mu.Unlock()

	arg := map[string]any{
		"id":     id,
		"status": status,
	}
	if tx != nil {
		arg["transaction"] = map[string]string{"id": tx.Id, "hex": tx.Hex}
	}
	if failureReason != "" {
		arg["failureReason"] = failureReason
	}
	payload := map[string]any{
		"event":   "update",
		"channel": "swap.update",
		"args":    []map[string]any{arg},
	}

	s.wsMu.RLock()
	defer s.wsMu.RUnlock()

	for conn, client := range s.wsClients {
		client.mu.Lock()
		_, subscribed := client.subs[id]
		if subscribed {
			if err := conn.WriteJSON(payload); err != nil {
				log.WithError(err).Warn("failed to push ws event")
			}
		}
		client.mu.Unlock()
	}

	return nil
}

// PushRaw writes payload as is to every open connection.
func (s *Server) PushRaw(payload []byte) {
	s.wsMu.RLock()
	defer s.wsMu.RUnlock()

	for conn, client := range s.wsClients {
		client.mu.Lock()
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.WithError(err).Warn("failed to push raw ws message")
		}
		client.mu.Unlock()
	}
}

// DropConnections closes every websocket without a close handshake.
func (s *Server) DropConnections() {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	for conn := range s.wsClients {
		_ = conn.Close()
	}
	s.wsClients = make(map[*websocket.Conn]*wsClient)
}

// OpenConnections returns the number of websocket clients currently connected.
func (s *Server) OpenConnections() int {
	s.wsMu.RLock()
	defer s.wsMu.RUnlock()
	return len(s.wsClients)
}

// AcceptedConnections returns how many websocket connections were accepted
// since start.
func (s *Server) AcceptedConnections() int64 {
	return s.accepted.Load()
}

func (s *Server) Pings() int64 {
	return s.pings.Load()
}

// Subscribers returns how many connections are subscribed to id.
func (s *Server) Subscribers(id string) int {
	s.wsMu.RLock()
	defer s.wsMu.RUnlock()

	n := 0
	for _, client := range s.wsClients {
		client.mu.Lock()
		if _, ok := client.subs[id]; ok {
			n++
		}
		client.mu.Unlock()
	}
	return n
}

func (s *Server) Broadcasts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.broadcasts...)
}

func (s *Server) CreateRequests() []boltz.CreateReverseSwapRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]boltz.CreateReverseSwapRequest(nil), s.requests...)
}

func (s *Server) Swap(id string) (SwapState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.swaps[id]
	if !ok {
		return SwapState{}, false
	}
	return *st, true
}

// SetCreateError makes swap creation fail with msg. An empty msg restores
// normal behaviour.
func (s *Server) SetCreateError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createErr = msg
}

// SetBadInvoice makes the mock return invoices locked to a payment hash
// other than the requested one.
func (s *Server) SetBadInvoice(bad bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.badInvoice = bad
}

func (s *Server) Pairs() boltz.ReversePairs {
	return boltz.ReversePairs{
		boltz.CurrencyBtc: {
			boltz.CurrencyBtc:    s.pair(boltz.CurrencyBtc),
			boltz.CurrencyLiquid: s.pair(boltz.CurrencyLiquid),
		},
	}
}

func (s *Server) pair(to boltz.Currency) boltz.ReversePair {
	h := sha256.Sum256([]byte(fmt.Sprintf("BTC/%s/%d", to, s.cfg.ServiceFeePPM)))
	return boltz.ReversePair{
		Hash: hex.EncodeToString(h[:]),
		Rate: 1,
		Limits: boltz.PairLimits{
			Minimal: s.cfg.MinAmount,
			Maximal: s.cfg.MaxAmount,
		},
		Fees: boltz.PairFees{
			Percentage: float64(s.cfg.ServiceFeePPM) / 10_000,
			MinerFees: boltz.MinerFees{
				Lockup: s.cfg.MinerFeeSat / 2,
				Claim:  s.cfg.MinerFeeSat / 2,
			},
		},
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReverse(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.Pairs())
	case http.MethodPost:
		s.handleCreateReverse(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleCreateReverse(w http.ResponseWriter, r *http.Request) {
	var req boltz.CreateReverseSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}

	s.mu.Lock()
	s.requests = append(s.requests, req)
	createErr := s.createErr
	s.mu.Unlock()

	if createErr != "" {
		writeError(w, http.StatusInternalServerError, createErr)
		return
	}

	resp, state, err := s.createSwap(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.mu.Lock()
	s.swaps[state.ID] = state
	s.mu.Unlock()

	if delay := s.cfg.AutoSwapCreatedDelay; delay > 0 {
		go func(id string) {
			time.Sleep(delay)
			_ = s.PushUpdate(id, boltz.StatusSwapCreated, nil)
		}(state.ID)
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) createSwap(
	req boltz.CreateReverseSwapRequest,
) (*boltz.CreateReverseSwapResponse, *SwapState, error) {
	pair, ok := s.Pairs().Find(req.From, req.To)
	if !ok {
		return nil, nil, fmt.Errorf("could not find pair %s/%s", req.From, req.To)
	}
	if req.PairHash != "" && req.PairHash != pair.Hash {
		return nil, nil, fmt.Errorf("invalid pair hash")
	}
	if req.InvoiceAmount < pair.Limits.Minimal {
		return nil, nil, fmt.Errorf("%d is less than minimal of %d", req.InvoiceAmount, pair.Limits.Minimal)
	}
	if req.InvoiceAmount > pair.Limits.Maximal {
		return nil, nil, fmt.Errorf("%d is more than maximal of %d", req.InvoiceAmount, pair.Limits.Maximal)
	}

	hashBytes, err := hex.DecodeString(req.PreimageHash)
	if err != nil || len(hashBytes) != sha256.Size {
		return nil, nil, fmt.Errorf("invalid preimage hash")
	}
	claimKeyBytes, err := hex.DecodeString(req.ClaimPublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid claim public key")
	}
	claimKey, err := btcec.ParsePubKey(claimKeyBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid claim public key: %s", err)
	}

	s.mu.RLock()
	badInvoice := s.badInvoice
	s.mu.RUnlock()

	var paymentHash [32]byte
	copy(paymentHash[:], hashBytes)
	if badInvoice {
		paymentHash = sha256.Sum256(hashBytes)
	}

	expiry := defaultInvoiceExpiry
	if req.InvoiceExpiry > 0 {
		expiry = time.Duration(req.InvoiceExpiry) * time.Second
	}
	invoice, err := s.encodeInvoice(paymentHash, req.InvoiceAmount, req.Description, expiry)
	if err != nil {
		return nil, nil, err
	}

	id, err := randomID()
	if err != nil {
		return nil, nil, err
	}

	tweak := make([]byte, 32)
	if _, err := rand.Read(tweak); err != nil {
		return nil, nil, err
	}
	lockupAddr, err := btcutil.NewAddressTaproot(tweak, s.cfg.Network)
	if err != nil {
		return nil, nil, err
	}

	timeout := uint32(defaultTimeoutBlocks)
	tree := buildSwapTree(hashBytes, claimKey, s.privateKey.PubKey(), timeout)
	if req.To == boltz.CurrencyLiquid && req.ClaimCovenant {
		tree.CovenantClaimLeaf = &boltz.SwapTreeLeaf{
			Version: 196,
			Output:  "82012088a914" + hex.EncodeToString(btcutil.Hash160(hashBytes)) + "8800d1",
		}
	}

	fee := req.InvoiceAmount * s.cfg.ServiceFeePPM / 1_000_000
	onchain := req.InvoiceAmount - fee - s.cfg.MinerFeeSat

	resp := &boltz.CreateReverseSwapResponse{
		Id:                 id,
		Invoice:            invoice,
		LockupAddress:      lockupAddr.EncodeAddress(),
		RefundPublicKey:    hex.EncodeToString(s.privateKey.PubKey().SerializeCompressed()),
		TimeoutBlockHeight: timeout,
		OnchainAmount:      onchain,
		SwapTree:           tree,
	}
	if req.To == boltz.CurrencyLiquid {
		blinding, err := btcec.NewPrivateKey()
		if err != nil {
			return nil, nil, err
		}
		resp.BlindingKey = hex.EncodeToString(blinding.Serialize())
	}

	state := &SwapState{
		ID:                 id,
		From:               req.From,
		To:                 req.To,
		CreatedAt:          time.Now(),
		InvoiceAmount:      req.InvoiceAmount,
		PreimageHash:       req.PreimageHash,
		ClaimPublicKey:     req.ClaimPublicKey,
		Address:            req.Address,
		Invoice:            invoice,
		LockupAddress:      resp.LockupAddress,
		TimeoutBlockHeight: timeout,
		LastStatus:         boltz.StatusSwapCreated,
	}

	return resp, state, nil
}

func (s *Server) encodeInvoice(
	paymentHash [32]byte, amountSat uint64, description string, expiry time.Duration,
) (string, error) {
	invoice, err := zpay32.NewInvoice(
		s.cfg.Network, paymentHash, time.Now(),
		zpay32.Amount(lnwire.MilliSatoshi(amountSat*1000)),
		zpay32.Description(description),
		zpay32.Expiry(expiry),
	)
	if err != nil {
		return "", fmt.Errorf("new invoice: %w", err)
	}

	return invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			return ecdsa.SignCompact(s.nodeKey, chainhash.HashB(msg), true)
		},
	})
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	if len(parts) != 4 || parts[3] != "transaction" || r.Method != http.MethodPost {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	var req boltz.BroadcastTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	raw, err := hex.DecodeString(req.Hex)
	if err != nil || len(raw) == 0 {
		writeError(w, http.StatusBadRequest, "invalid transaction hex")
		return
	}

	s.mu.Lock()
	s.broadcasts = append(s.broadcasts, req.Hex)
	s.mu.Unlock()

	writeJSON(w, http.StatusCreated, boltz.BroadcastTransactionResponse{
		Id: chainhash.DoubleHashH(raw).String(),
	})
}

func (s *Server) handleAdminSwap(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id := parts[2]

	if len(parts) == 3 && r.Method == http.MethodGet {
		st, ok := s.Swap(id)
		if !ok {
			writeError(w, http.StatusNotFound, "swap not found")
			return
		}
		writeJSON(w, http.StatusOK, st)
		return
	}

	if len(parts) == 4 && parts[3] == "event" && r.Method == http.MethodPost {
		var req struct {
			Status string `json:"status"`
			TxID   string `json:"txid"`
			TxHex  string `json:"txhex"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
		if req.Status == "" {
			writeError(w, http.StatusBadRequest, "status is required")
			return
		}
		if _, ok := s.Swap(id); !ok {
			writeError(w, http.StatusNotFound, "swap not found")
			return
		}
		var tx *boltz.SwapTransaction
		if req.TxHex != "" || req.TxID != "" {
			tx = &boltz.SwapTransaction{Id: req.TxID, Hex: req.TxHex}
		}
		if err := s.PushUpdate(id, req.Status, tx); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		st, _ := s.Swap(id)
		writeJSON(w, http.StatusOK, st)
		return
	}

	writeError(w, http.StatusNotFound, "not found")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	s.accepted.Add(1)

	client := &wsClient{subs: make(map[string]struct{})}
	s.wsMu.Lock()
	s.wsClients[conn] = client
	s.wsMu.Unlock()

	defer func() {
		s.wsMu.Lock()
		delete(s.wsClients, conn)
		s.wsMu.Unlock()
		_ = conn.Close()
	}()

	for {
		var msg boltz.Request
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		var reply map[string]any
		switch {
		case msg.Op == "ping":
			s.pings.Add(1)
			reply = map[string]any{"event": "pong"}
		case msg.Op == "subscribe" && msg.Channel == "swap.update":
			client.mu.Lock()
			for _, id := range msg.Args {
				client.subs[id] = struct{}{}
			}
			client.mu.Unlock()
			reply = map[string]any{"event": "subscribe", "channel": msg.Channel, "args": msg.Args}
		case msg.Op == "unsubscribe" && msg.Channel == "swap.update":
			client.mu.Lock()
			for _, id := range msg.Args {
				delete(client.subs, id)
			}
			client.mu.Unlock()
			reply = map[string]any{"event": "unsubscribe", "channel": msg.Channel, "args": msg.Args}
		default:
			reply = map[string]any{"event": "error", "error": fmt.Sprintf("unsupported op %q", msg.Op)}
		}

		client.mu.Lock()
		err := conn.WriteJSON(reply)
		client.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func buildSwapTree(
	preimageHash []byte, claimKey, refundKey *btcec.PublicKey, timeout uint32,
) boltz.SwapTree {
	hash160 := hex.EncodeToString(btcutil.Hash160(preimageHash))
	claimXOnly := hex.EncodeToString(schnorr.SerializePubKey(claimKey))
	refundXOnly := hex.EncodeToString(schnorr.SerializePubKey(refundKey))
	locktime := hex.EncodeToString([]byte{byte(timeout), byte(timeout >> 8)})

	return boltz.SwapTree{
		ClaimLeaf: boltz.SwapTreeLeaf{
			Version: 192,
			Output:  "82012088a914" + hash160 + "8820" + claimXOnly + "ac",
		},
		RefundLeaf: boltz.SwapTreeLeaf{
			Version: 192,
			Output:  "20" + refundXOnly + "ad02" + locktime + "b1",
		},
	}
}

func randomID() (string, error) {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
