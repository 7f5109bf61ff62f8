package commands

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/crowdstake/crowdstake/internal/config"
	"github.com/crowdstake/crowdstake/internal/ledger"
	"github.com/crowdstake/crowdstake/internal/logging"
	"github.com/crowdstake/crowdstake/internal/metrics"
	"github.com/crowdstake/crowdstake/internal/staking"
	"github.com/crowdstake/crowdstake/internal/wallet"
)

// session is an opened ledger plus the staking service over it.
type session struct {
	cfg     *config.Config
	ledger  ledger.Ledger
	events  ledger.EventSource
	service *staking.Service
	closeFn func()
}

// openSession connects to the configured ledger. In mock mode the ledger
// lives in memory, seeded from cfg.Ledger.Fixtures, and changes are lost
// when the process exits. signer may be nil for read-only use.
func openSession(ctx context.Context, cfg *config.Config, signer *ecdsa.PrivateKey, collector *metrics.Collector) (*session, error) {
	s := &session{cfg: cfg}
	svcCfg := staking.NewServiceConfig(cfg.Claim)

	if cfg.Ledger.Mock {
		ml, err := ledger.NewMemoryLedgerFromFile(cfg.Ledger.Fixtures, nil)
		if err != nil {
			return nil, err
		}
		logging.Debug("using in-memory ledger", "fixtures", cfg.Ledger.Fixtures)
		s.ledger, s.events = ml, ml
	} else {
		bc := ledger.NewBaseClient(ledger.NewBaseClientConfig(&cfg.Ledger), signer)
		if err := bc.Connect(ctx); err != nil {
			return nil, fmt.Errorf("failed to connect to ledger: %w", err)
		}
		token, err := ledger.NewTokenContract(bc, common.HexToAddress(cfg.Ledger.TokenAddress))
		if err != nil {
			bc.Close()
			return nil, err
		}
		cl, err := ledger.NewContractLedger(bc, common.HexToAddress(cfg.Ledger.StakingProgramAddress), token)
		if err != nil {
			bc.Close()
			return nil, err
		}
		logging.Debug("connected to ledger", "rpc", bc.ActiveURL(), "program", cl.Address().Hex())
		s.ledger, s.events, s.closeFn = cl, cl, bc.Close

		clock, err := bc.ChainClock(ctx)
		if err != nil {
			logging.Warn("using local clock for estimates", logging.Err(err))
		}
		svcCfg.Clock = clock
	}

	s.service = staking.NewService(s.ledger, collector, svcCfg)
	return s, nil
}

func (s *session) Close() {
	if s.closeFn != nil {
		s.closeFn()
	}
}

// parseAddress parses a command-line address argument.
func parseAddress(name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid %s address: %s", name, s)
	}
	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%s address must not be zero", name)
	}
	return addr, nil
}

// resolveStaker returns the --staker address if given, else the wallet's.
func resolveStaker(cfg *config.Config, flag string) (common.Address, error) {
	if flag != "" {
		return parseAddress("staker", flag)
	}
	wm, err := wallet.Load(cfg.Wallet.KeystoreDir)
	if err != nil {
		if errors.Is(err, wallet.ErrNoWallet) {
			return common.Address{}, fmt.Errorf("%w: pass --staker or run 'crowdstake wallet create'", err)
		}
		return common.Address{}, err
	}
	return wm.Address(), nil
}

// signerFor resolves the staker for a submission and, outside mock mode,
// unlocks its signing key. The password comes from the environment or the
// keyring, falling back to a prompt.
func signerFor(cfg *config.Config, stakerFlag string) (common.Address, *ecdsa.PrivateKey, error) {
	if cfg.Ledger.Mock {
		staker, err := resolveStaker(cfg, stakerFlag)
		return staker, nil, err
	}

	wm, err := wallet.Load(cfg.Wallet.KeystoreDir)
	if err != nil {
		return common.Address{}, nil, err
	}
	if stakerFlag != "" {
		flagAddr, err := parseAddress("staker", stakerFlag)
		if err != nil {
			return common.Address{}, nil, err
		}
		if flagAddr != wm.Address() {
			return common.Address{}, nil, fmt.Errorf("%w: wallet is %s", ledger.ErrSignerMismatch, wm.Address().Hex())
		}
	}

	password, ok := wallet.ResolvePassword(wm.Address(), cfg.Wallet.UseKeyring)
	if !ok {
		password, err = promptPassword("Wallet password for "+FormatAddress(wm.Address().Hex()), nil)
		if err != nil {
			return common.Address{}, nil, err
		}
	}
	key, err := wm.PrivateKey(password)
	if err != nil {
		return common.Address{}, nil, err
	}
	return wm.Address(), key, nil
}
