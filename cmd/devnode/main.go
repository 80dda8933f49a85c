// Command devnode runs a single-process validator: it gossips transactions
// and blocks over the network, packages and evaluates whatever is pending
// on every block_time tick, and commits the result to its state store.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"intent-chain/core"
	"intent-chain/core/builder"
	"intent-chain/core/evaluator"
	"intent-chain/core/vm"
	"intent-chain/core/watcher"
	"intent-chain/network"
	"intent-chain/pkg/config"
	"intent-chain/storage"
)

func main() {
	log := logrus.New()

	root := &cobra.Command{Use: "devnode"}
	root.AddCommand(startCmd(log))
	if err := root.Execute(); err != nil {
		log.WithError(err).Error("devnode: exited with error")
		os.Exit(1)
	}
}

func startCmd(log *logrus.Logger) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "start a devnode validator",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath, log)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "devnode.yaml", "path to a YAML config file")
	return cmd
}

func run(configPath string, log *logrus.Logger) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"network_id": cfg.NetworkID,
		"p2p_port":   cfg.P2PPort,
		"block_time": cfg.BlockTime,
		"persistent": cfg.Persistent(),
	}).Info("devnode: starting")

	state, codecache, err := openStores(cfg)
	if err != nil {
		return err
	}

	cacheDir, err := os.MkdirTemp("", "devnode-vm-cache")
	if err != nil {
		return err
	}
	defer os.RemoveAll(cacheDir)

	predicateVM, err := vm.New(cacheDir, 10_000_000)
	if err != nil {
		return err
	}
	eval := evaluator.New(predicateVM)

	b, err := builder.NewBlockStateBuilder(64, state, codecache, eval, core.GenesisBlock())
	if err != nil {
		return err
	}

	blocks := make(chan *core.Block)
	w := watcher.New(b, blocks, log)
	defer w.Stop()

	node, err := network.NewNode(network.Config{
		NetworkID:      cfg.NetworkID,
		ListenAddr:     listenAddr(cfg),
		BootstrapPeers: cfg.BootstrapPeers,
	}, time.Minute, log)
	if err != nil {
		return err
	}
	defer node.Close()

	incomingTx, err := node.SubscribeTransactions()
	if err != nil {
		return err
	}

	mempool := NewMempool()
	go func() {
		for tx := range incomingTx {
			mempool.Submit(tx)
		}
	}()

	ticker := time.NewTicker(cfg.BlockTime)
	defer ticker.Stop()

	for range ticker.C {
		block, _, err := mempool.Produce(b, eval)
		if err != nil {
			log.WithError(err).Warn("devnode: failed producing a candidate block")
			continue
		}
		if block == nil {
			continue
		}
		blocks <- block
		if err := node.PublishBlock(block); err != nil {
			log.WithError(err).Warn("devnode: failed gossiping a committed block")
		}
	}
	return nil
}

func listenAddr(cfg *config.Config) string {
	ip := "0.0.0.0"
	if len(cfg.IP) > 0 {
		ip = cfg.IP[0]
	}
	return fmt.Sprintf("/ip4/%s/tcp/%d", ip, cfg.P2PPort)
}

func openStores(cfg *config.Config) (state, codecache core.State, err error) {
	if !cfg.Persistent() {
		return storage.NewMemoryStore(), storage.NewMemoryStore(), nil
	}
	stateStore, err := storage.OpenLevelStore(cfg.DataDir + "/state")
	if err != nil {
		return nil, nil, err
	}
	cacheStore, err := storage.OpenLevelStore(cfg.DataDir + "/cache")
	if err != nil {
		return nil, nil, err
	}
	return stateStore, cacheStore, nil
}
