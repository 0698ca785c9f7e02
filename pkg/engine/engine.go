// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package engine

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/sage-x-project/sage/internal/logger"
	"github.com/sage-x-project/sage/pkg/cryptoutil"
	"github.com/sage-x-project/sage/pkg/protocol"
	"github.com/sage-x-project/sage/pkg/transport/ws"
	"github.com/sage-x-project/sage/pkg/watcher"
)

const (
	uploadConcurrency   = 4
	downloadConcurrency = 6
	downloadTimeout     = 30 * time.Second
	previewTimeout      = 30 * time.Second
)

// PasswordPrompt supplies the user's password on first connect or after a
// session revocation; it is never called while a stored token is valid.
type PasswordPrompt func(ctx context.Context) (string, error)

// pendingDownload is one in-flight FILE_DOWNLOAD awaiting its paired binary
// frame.
type pendingDownload struct {
	fileID string
	meta   protocol.FileDownloadResponse
	done   chan struct{}
	failed bool
}

// Engine is the client sync state machine (C7): auth/key lifecycle,
// manifest reconciliation, bounded-concurrency upload/download pipelines,
// and the offline local-change queue.
type Engine struct {
	creds   *CredentialStore
	vault   VaultAdapter
	rules   watcher.ExclusionRules
	watch   *watcher.Watcher
	prompt  PasswordPrompt
	history *ActivityLog

	client *ws.Client

	mu       sync.Mutex
	state    State
	key      *cryptoutil.Key
	cred     *Credentials
	strategy Strategy

	sendMu sync.Mutex // serializes header+binary pairs on the wire

	downloadMu   sync.Mutex
	downloadFIFO []*pendingDownload
	downloadSem  *semaphore.Weighted

	offline *ChangeQueue

	// pendingPassword holds the just-entered password between OnOpen
	// sending AUTH and the AUTH_OK handler deriving the vault key from
	// the returned salt. Cleared immediately after use.
	pendingPassword string
}

// Config bundles Engine's external dependencies.
type Config struct {
	ServerURL       string
	CredentialsDir  string
	Vault           VaultAdapter
	Rules           watcher.ExclusionRules
	Watch           *watcher.Watcher
	Prompt          PasswordPrompt
	InitialStrategy Strategy
}

// New constructs an Engine and its underlying transport client, but does
// not start connecting; call Start for that.
func New(cfg Config) (*Engine, error) {
	store, err := NewCredentialStore(cfg.CredentialsDir)
	if err != nil {
		return nil, err
	}
	cred, err := store.Load()
	if err != nil {
		return nil, err
	}
	if cred.ServerURL == "" {
		cred.ServerURL = cfg.ServerURL
	}

	e := &Engine{
		creds:       store,
		vault:       cfg.Vault,
		rules:       cfg.Rules,
		watch:       cfg.Watch,
		prompt:      cfg.Prompt,
		history:     NewActivityLog(),
		state:       Disconnected,
		cred:        cred,
		strategy:    cfg.InitialStrategy,
		downloadSem: semaphore.NewWeighted(downloadConcurrency),
		offline:     NewChangeQueue(),
	}
	if cred.EncryptionKeyB64 != "" {
		if key, keyErr := decodeStoredKey(cred.EncryptionKeyB64); keyErr == nil {
			e.key = key
		}
	}
	e.client = ws.NewClient(cred.ServerURL, e)
	return e, nil
}

// State reports the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// History exposes the activity log for the dashboard surface.
func (e *Engine) History() *ActivityLog {
	return e.history
}

// Start begins the connect/reconnect lifecycle.
func (e *Engine) Start(ctx context.Context) {
	e.setState(Connecting)
	e.client.Start(ctx)
}

// Stop ends the connection permanently.
func (e *Engine) Stop() {
	e.client.Stop()
	e.setState(Disconnected)
}

// --- ws.Handler ---

// OnOpen sends AUTH for the new connection. Authentication proceeds
// asynchronously: AUTH_OK/AUTH_FAIL arrive through OnText once the
// transport's read loop starts.
func (e *Engine) OnOpen(ctx context.Context, c *ws.Client) error {
	e.setState(Authenticating)

	e.mu.Lock()
	cred := e.cred
	e.mu.Unlock()

	msg := protocol.Auth{
		Type:            protocol.TypeAuth,
		ClientID:        cred.ClientID,
		DeviceName:      cred.DeviceName,
		ProtocolVersion: protocol.ProtocolVersion,
	}
	if cred.AuthToken != "" {
		msg.AuthToken = cred.AuthToken
	} else {
		if e.prompt == nil {
			return errors.New("engine: no stored token and no password prompt configured")
		}
		password, err := e.prompt(ctx)
		if err != nil {
			return fmt.Errorf("engine: password prompt: %w", err)
		}
		msg.PasswordHash = cryptoutil.SHA256HexString(password)
		e.pendingPassword = password
	}
	return c.Send(msg)
}

func (e *Engine) OnText(data []byte) error {
	typ, err := protocol.PeekType(data)
	if err != nil {
		return err
	}
	ctx := context.Background()

	switch typ {
	case protocol.TypeAuthOK:
		return e.handleAuthOK(ctx, data)
	case protocol.TypeAuthFail:
		return e.handleAuthFail(data)
	case protocol.TypeSyncResponse:
		return e.handleSyncResponse(ctx, data)
	case protocol.TypeFileUploadAck:
		return e.handleUploadAck(data)
	case protocol.TypeFileDownloadResponse:
		return e.handleDownloadHeader(data)
	case protocol.TypeFileChanged:
		return e.handlePeerChanged(data)
	case protocol.TypeFileRemoved:
		return e.handlePeerRemoved(data)
	case protocol.TypeClientList:
		return nil // dashboard concern, not reconciliation state
	case protocol.TypePong:
		return nil
	default:
		logger.Warn("engine received unhandled message", logger.String("type", string(typ)))
		return nil
	}
}

func (e *Engine) OnBinary(data []byte) error {
	e.downloadMu.Lock()
	if len(e.downloadFIFO) == 0 {
		e.downloadMu.Unlock()
		return errors.New("engine: binary frame with no pending download")
	}
	pd := e.downloadFIFO[0]
	e.downloadFIFO = e.downloadFIFO[1:]
	e.downloadMu.Unlock()

	err := e.applyDownload(pd, data)
	if err != nil {
		pd.failed = true
		e.history.Record(HistoryEntry{Kind: ActivityError, Path: pd.meta.FileID, Detail: err.Error(), At: time.Now()})
		logger.Warn("engine: download failed", logger.String("fileId", pd.fileID), logger.Error(err))
	}
	close(pd.done)
	e.downloadSem.Release(1)
	return nil
}

func (e *Engine) OnClose(err error) {
	if err != nil {
		e.setState(Errored)
	} else {
		e.setState(Disconnected)
	}
	e.failOutstandingDownloads()
}

func (e *Engine) failOutstandingDownloads() {
	e.downloadMu.Lock()
	outstanding := e.downloadFIFO
	e.downloadFIFO = nil
	e.downloadMu.Unlock()

	for _, pd := range outstanding {
		pd.failed = true
		close(pd.done)
		e.downloadSem.Release(1)
	}
}

func decodeStoredKey(b64Key string) (*cryptoutil.Key, error) {
	raw, err := base64.StdEncoding.DecodeString(b64Key)
	if err != nil {
		return nil, fmt.Errorf("engine: decode stored key: %w", err)
	}
	return cryptoutil.KeyFromRaw(raw)
}
