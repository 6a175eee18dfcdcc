package world

import (
	"context"
	"time"

	"github.com/google/uuid"

	"voxelnet.ai/internal/protocol"
	"voxelnet.ai/internal/sim/world/feature/session/lifecycle"
)

type authKind int

const (
	authLookup authKind = iota + 1
	authLogin
	authRegister
	authSudo
	authChangePassword
)

var authKindNames = map[authKind]string{
	authLookup:         "lookup",
	authLogin:          "login",
	authRegister:       "register",
	authSudo:           "sudo",
	authChangePassword: "change_password",
}

func (k authKind) String() string { return authKindNames[k] }

const authTimeout = 5 * time.Second

type authJob struct {
	kind      authKind
	peerID    uint64
	sessionID uuid.UUID
	name      string
	password  string
}

type authResult struct {
	job    authJob
	exists bool
	ok     bool
	err    error
}

// authWorker runs password checks off the world loop. bcrypt is slow on
// purpose and the account store may hit the disk.
func (w *World) authWorker() {
	defer w.authWG.Done()
	for job := range w.authJobs {
		res := w.runAuthJob(job)
		select {
		case w.authDone <- res:
		case <-w.authCtx.Done():
			return
		}
	}
}

func (w *World) runAuthJob(job authJob) authResult {
	ctx, cancel := context.WithTimeout(w.authCtx, authTimeout)
	defer cancel()
	res := authResult{job: job}
	switch job.kind {
	case authLookup:
		res.exists, res.err = w.accounts.HasAccount(ctx, job.name)
	case authLogin, authSudo:
		res.ok, res.err = w.accounts.CheckPassword(ctx, job.name, job.password)
	case authRegister:
		if job.password == "" {
			return res
		}
		// Someone else may have registered the name since HELLO.
		res.exists, res.err = w.accounts.HasAccount(ctx, job.name)
		if res.err != nil || res.exists {
			return res
		}
		res.err = w.accounts.SetPassword(ctx, job.name, job.password)
		res.ok = res.err == nil
	case authChangePassword:
		res.err = w.accounts.SetPassword(ctx, job.name, job.password)
		res.ok = res.err == nil
	}
	return res
}

// enqueueAuth hands a job to the workers. At most one job per peer is in
// flight; false means the queue is full.
func (w *World) enqueueAuth(job authJob) bool {
	select {
	case w.authJobs <- job:
		w.authPending[job.peerID] = true
		return true
	default:
		return false
	}
}

func (w *World) handleAuthResult(res authResult) {
	job := res.job
	delete(w.authPending, job.peerID)
	w.metrics.auth(job.kind, res)

	c := w.reg.Client(job.peerID)
	if c == nil || c.SessionID != job.sessionID || c.State().Terminal() {
		// The peer left while the check was running.
		return
	}
	if res.err != nil {
		w.logf("peer=%d name=%q auth %s: %v", job.peerID, job.name, job.kind, res.err)
		if job.kind == authSudo || job.kind == authChangePassword {
			w.sendError(job.peerID, protocol.ErrInternal, "account store unavailable")
			return
		}
		w.deny(job.peerID, protocol.ErrInternal, "account store unavailable")
		return
	}

	switch job.kind {
	case authLookup:
		w.finishHello(c, res.exists)
	case authLogin, authRegister:
		if !res.ok {
			w.deny(job.peerID, protocol.ErrAuthFailed, "wrong name or password")
			return
		}
		if err := w.reg.Event(job.peerID, lifecycle.EventAuthAccept); err != nil {
			w.deny(job.peerID, protocol.ErrState, err.Error())
			return
		}
		if job.kind == authRegister {
			w.logf("peer=%d registered account %q", job.peerID, job.name)
		}
		w.sendJSON(job.peerID, protocol.AuthAcceptMsg{
			Type:     protocol.TypeAuthAccept,
			Spawn:    [3]float64{w.spawn.X(), w.spawn.Y(), w.spawn.Z()},
			MapSeed:  w.cfg.Seed,
			TickRate: w.cfg.TickRateHz,
		})
	case authSudo:
		if !res.ok {
			w.sendError(job.peerID, protocol.ErrAuthFailed, "incorrect password")
			return
		}
		if err := w.reg.Event(job.peerID, lifecycle.EventSudoSuccess); err != nil {
			w.deny(job.peerID, protocol.ErrState, err.Error())
			return
		}
		w.sendJSON(job.peerID, protocol.SudoAcceptMsg{Type: protocol.TypeSudoAccept})
	case authChangePassword:
		if err := w.reg.Event(job.peerID, lifecycle.EventSudoLeave); err != nil {
			w.deny(job.peerID, protocol.ErrState, err.Error())
			return
		}
		c.AllowedSudoMechs = lifecycle.AuthPassword
		w.sendJSON(job.peerID, protocol.PasswordChangedMsg{Type: protocol.TypePasswordChanged, OK: res.ok})
	}
}

// finishHello runs the admission checks that need the account lookup and
// answers the client's HELLO.
func (w *World) finishHello(c *lifecycle.Client, exists bool) {
	for _, other := range w.reg.Clients(lifecycle.StateHelloSent) {
		if other.PeerID != c.PeerID && other.Name == c.Name {
			w.deny(c.PeerID, protocol.ErrAlreadyConnected, "player is already connected")
			return
		}
	}
	if w.reg.IsUserLimitReached() && (w.cfg.AdminName == "" || c.Name != w.cfg.AdminName) {
		w.deny(c.PeerID, protocol.ErrServerFull, "too many users")
		return
	}
	mech := lifecycle.AuthPassword
	if !exists {
		if !w.cfg.AllowRegistration {
			w.deny(c.PeerID, protocol.ErrAuthFailed, "new accounts are disabled")
			return
		}
		mech = lifecycle.AuthFirstPassword
	}
	c.ChosenMech = mech
	if err := w.reg.Event(c.PeerID, lifecycle.EventHello); err != nil {
		w.deny(c.PeerID, protocol.ErrState, err.Error())
		return
	}
	w.sendJSON(c.PeerID, protocol.ServerHelloMsg{
		Type:                 protocol.TypeHello,
		ProtocolVersion:      protocol.Version,
		Protocol:             c.ProtocolVersion,
		SerializationVersion: c.PendingSerializationVersion,
		AuthMechanism:        mech.String(),
		SessionID:            c.SessionID.String(),
	})
}
