package cli

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kenneth/openpgp-codec/internal/audit"
	"github.com/kenneth/openpgp-codec/internal/keyfile"
	"github.com/kenneth/openpgp-codec/internal/metrics"
	"github.com/kenneth/openpgp-codec/internal/openpgp"
)

func newEncryptCmd() *cobra.Command {
	var inPath, outPath string

	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encode a plaintext stream into an encrypted data packet",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCodec(openpgp.OpWrite, inPath, outPath)
		},
	}
	cmd.Flags().StringVarP(&inPath, "in", "i", "-", "Input file (- for stdin)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "-", "Output file (- for stdout)")
	return cmd
}

func newDecryptCmd() *cobra.Command {
	var inPath, outPath string

	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Decode an encrypted data packet back to plaintext",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCodec(openpgp.OpRead, inPath, outPath)
		},
	}
	cmd.Flags().StringVarP(&inPath, "in", "i", "-", "Input file (- for stdin)")
	cmd.Flags().StringVarP(&outPath, "out", "o", "-", "Output file (- for stdout)")
	return cmd
}

func newGenKeyCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate a random session key for the configured algorithm",
		RunE: func(cmd *cobra.Command, args []string) error {
			algo, err := openpgp.CipherAlgoByName(cfg.Codec.Algorithm)
			if err != nil {
				return err
			}
			sk, err := openpgp.GenerateSessionKey(algo, !cfg.Codec.DisableMDC)
			if err != nil {
				return err
			}
			defer sk.Wipe()

			line := hex.EncodeToString(sk.Key) + "\n"
			if outPath == "-" {
				_, err = io.WriteString(cmd.OutOrStdout(), line)
				return err
			}
			return os.WriteFile(outPath, []byte(line), 0600)
		},
	}
	cmd.Flags().StringVarP(&outPath, "out", "o", "-", "Output file (- for stdout)")
	return cmd
}

// newSessionKey builds a session key from the loaded configuration.
func newSessionKey() (*openpgp.SessionKey, error) {
	algo, err := openpgp.CipherAlgoByName(cfg.Codec.Algorithm)
	if err != nil {
		return nil, err
	}
	if cfg.Codec.KeyFile == "" {
		return nil, fmt.Errorf("a key file is required (set codec.key_file or --key-file)")
	}
	key, err := keyfile.Load(cfg.Codec.KeyFile)
	if err != nil {
		return nil, err
	}
	sk := &openpgp.SessionKey{
		Algo:    algo,
		Key:     key,
		UseMDC:  !cfg.Codec.DisableMDC,
		RFC1991: cfg.Codec.Legacy,
	}
	if err := sk.Validate(); err != nil {
		sk.Wipe()
		return nil, err
	}
	return sk, nil
}

// newAuditLogger builds the audit sink from configuration. The returned
// closer is never nil.
func newAuditLogger() (audit.Logger, func(), error) {
	if !cfg.Audit.Enabled {
		return nil, func() {}, nil
	}
	sink := io.Writer(os.Stderr)
	closer := func() {}
	if cfg.Audit.Path != "" {
		f, err := os.OpenFile(cfg.Audit.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		sink = f
		closer = func() { f.Close() }
	}
	return audit.NewLogger(auditMaxEvents, sink), closer, nil
}

const auditMaxEvents = 1000

var (
	metricsOnce sync.Once
	procMetrics *metrics.Metrics
)

// codecMetrics returns the process-wide metrics instance. Collectors
// register on the default registry and must only be created once.
func codecMetrics() *metrics.Metrics {
	metricsOnce.Do(func() {
		procMetrics = metrics.NewMetrics()
	})
	return procMetrics
}

func runCodec(op openpgp.Op, inPath, outPath string) error {
	sk, err := newSessionKey()
	if err != nil {
		return err
	}
	defer sk.Wipe()

	auditLog, closeAudit, err := newAuditLogger()
	if err != nil {
		return err
	}
	defer closeAudit()

	in := io.Reader(os.Stdin)
	if inPath != "-" {
		f, err := os.Open(inPath)
		if err != nil {
			return fmt.Errorf("%w: %v", openpgp.ErrFile, err)
		}
		defer f.Close()
		in = f
	}

	out := io.Writer(os.Stdout)
	if outPath != "-" {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("%w: %v", openpgp.ErrFile, err)
		}
		defer f.Close()
		out = f
	}

	m := codecMetrics()
	counted := &countingWriter{w: out}
	err = runFilter(op, sk, in, counted, m, auditLog, inPath)
	if err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"operation": opName(op),
		"algorithm": sk.Algo.String(),
		"bytes_out": counted.n,
	}).Info("Operation complete")
	return nil
}

// runFilter executes one codec operation and records metrics and audit
// events around it.
func runFilter(op openpgp.Op, sk *openpgp.SessionKey, in io.Reader, out io.Writer, m *metrics.Metrics, auditLog audit.Logger, source string) error {
	filter := openpgp.NewCipherFilter(sk, logger.WithField("source", source))
	filter.BlockMode = cfg.Codec.Partial
	defer filter.Free()

	counted := &countingWriter{w: out}
	start := time.Now()
	err := openpgp.Dispatch(filter, op, in, counted)
	duration := time.Since(start)

	if err != nil {
		m.RecordError(opName(op), openpgp.ErrorCode(err))
	} else {
		m.RecordOperation(opName(op), sk.Algo.String(), duration, counted.n)
	}

	if auditLog != nil {
		switch op {
		case openpgp.OpWrite:
			auditLog.LogEncrypt(source, sk.Algo.String(), counted.n, err, duration)
		case openpgp.OpRead:
			auditLog.LogDecrypt(source, sk.Algo.String(), counted.n, err, duration)
		}
	}
	return err
}

func opName(op openpgp.Op) string {
	switch op {
	case openpgp.OpWrite:
		return "encrypt"
	case openpgp.OpRead:
		return "decrypt"
	default:
		return "unknown"
	}
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
