// Package pki issues per-voter certificates by driving the openssl toolchain
// through a three-stage pipeline: key generation, CSR generation, and signing
// with the CA key. Each stage runs under its own timeout and a stage failure
// aborts the remainder of the pipeline.
package pki

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

const (
	StageKeyGen = "keygen"
	StageCSR    = "csr"
	StageSign   = "sign"
)

// StageError reports which pipeline stage failed. The wrapped error carries
// the exit status; command arguments are never included because the signing
// stage's arguments contain the CA passphrase.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("certificate pipeline stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Params configures an Authority. The CA key and passphrase are loaded once
// at startup and treated as read-only for the life of the process.
type Params struct {
	CertsDir      string
	CACertPath    string
	CAKeyPath     string
	KeyPassphrase string
	CertDays      int
	StageTimeout  time.Duration
	Runner        Runner
}

type Authority struct {
	certsDir      string
	caCertPath    string
	caKeyPath     string
	keyPassphrase string
	certDays      int
	stageTimeout  time.Duration
	runner        Runner
	inflight      singleflight.Group
}

func New(params Params) (*Authority, error) {
	if params.CertsDir == "" {
		return nil, errors.New("certs directory is required")
	}
	if params.CACertPath == "" || params.CAKeyPath == "" {
		return nil, errors.New("ca cert and key paths are required")
	}
	if strings.TrimSpace(params.KeyPassphrase) == "" {
		return nil, errors.New("ca key passphrase is required")
	}
	if params.CertDays <= 0 {
		params.CertDays = 365
	}
	if params.StageTimeout <= 0 {
		params.StageTimeout = 30 * time.Second
	}
	if params.Runner == nil {
		params.Runner = ExecRunner{}
	}
	return &Authority{
		certsDir:      params.CertsDir,
		caCertPath:    params.CACertPath,
		caKeyPath:     params.CAKeyPath,
		keyPassphrase: params.KeyPassphrase,
		certDays:      params.CertDays,
		stageTimeout:  params.StageTimeout,
		runner:        params.Runner,
	}, nil
}

// Issue runs the pipeline for username and returns the signed certificate
// text. Concurrent calls for the same username collapse into one pipeline
// run; different usernames issue in parallel. The username must be a plain
// identifier: it names files under the certs directory and becomes the
// certificate subject, so path characters are rejected outright.
func (a *Authority) Issue(ctx context.Context, username string) (string, error) {
	if !validSubjectName(username) {
		return "", fmt.Errorf("username %q is not a valid certificate subject", username)
	}
	out, err, _ := a.inflight.Do(username, func() (any, error) {
		// The collapsed run is shared by every waiting caller, so it must
		// not die with the first caller's context. The per-stage timeouts
		// still bound each step.
		return a.issue(context.WithoutCancel(ctx), username)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func validSubjectName(username string) bool {
	if username == "" {
		return false
	}
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}

func (a *Authority) issue(ctx context.Context, username string) (string, error) {
	keyPath := filepath.Join(a.certsDir, username+".key")
	csrPath := filepath.Join(a.certsDir, username+".csr")
	certPath := filepath.Join(a.certsDir, username+".crt")

	if err := a.runStage(ctx, StageKeyGen,
		"genrsa", "-out", keyPath, "2048",
	); err != nil {
		removeArtifacts(keyPath)
		return "", err
	}

	if err := a.runStage(ctx, StageCSR,
		"req", "-new", "-key", keyPath, "-out", csrPath, "-subj", "/CN="+username,
	); err != nil {
		removeArtifacts(keyPath, csrPath)
		return "", err
	}

	if err := a.runStage(ctx, StageSign,
		"x509", "-req", "-in", csrPath,
		"-CA", a.caCertPath, "-CAkey", a.caKeyPath, "-CAcreateserial",
		"-out", certPath, "-days", fmt.Sprintf("%d", a.certDays), "-sha256",
		"-passin", "pass:"+a.keyPassphrase,
	); err != nil {
		removeArtifacts(keyPath, csrPath, certPath)
		return "", err
	}

	cert, err := os.ReadFile(certPath)
	if err != nil {
		return "", &StageError{Stage: StageSign, Err: fmt.Errorf("read signed certificate: %w", err)}
	}
	return string(cert), nil
}

func (a *Authority) runStage(ctx context.Context, stage string, args ...string) error {
	stageCtx, cancel := context.WithTimeout(ctx, a.stageTimeout)
	defer cancel()
	if err := a.runner.Run(stageCtx, "openssl", args...); err != nil {
		if errors.Is(stageCtx.Err(), context.DeadlineExceeded) {
			return &StageError{Stage: stage, Err: fmt.Errorf("timed out after %s", a.stageTimeout)}
		}
		return &StageError{Stage: stage, Err: err}
	}
	return nil
}

// removeArtifacts deletes partial pipeline outputs so an orphaned key or CSR
// can never be mistaken for a provisioned credential.
func removeArtifacts(paths ...string) {
	for _, p := range paths {
		_ = os.Remove(p)
	}
}
