package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"pqwallet/internal/config"
	"pqwallet/internal/keys"
	"pqwallet/internal/opstore"
	"pqwallet/internal/shutdown"
	"pqwallet/internal/userop"
	"pqwallet/internal/wallet"
)

var (
	// 基础参数
	configFile string
	verbose    bool

	// 调用参数
	toAddr   string
	valueWei string
	dataHex  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "pqwallet",
		Short: "后量子双签名智能账户钱包",
		Long:  `面向量子过渡期的智能账户钱包客户端，每笔操作同时携带经典secp256k1签名与ML-DSA后量子签名，经ERC-4337 bundler提交`,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "configs/config.yaml", "配置文件路径")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "详细输出")

	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "估算一次调用的gas成本",
		RunE:  runQuote,
	}
	addCallFlags(quoteCmd)

	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "发送一次调用并等待确认",
		RunE:  runSend,
	}
	addCallFlags(sendCmd)

	addressCmd := &cobra.Command{
		Use:   "address",
		Short: "显示智能账户地址与余额",
		RunE:  runAddress,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "查看本地操作记录",
		RunE:  runStatus,
	}

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "重新跟踪上次退出时未确认的操作",
		RunE:  runResume,
	}

	decodeCmd := &cobra.Command{
		Use:   "decode <calldata>",
		Short: "解码账户调用数据",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecode,
	}

	rootCmd.AddCommand(quoteCmd, sendCmd, addressCmd, statusCmd, resumeCmd, decodeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "执行失败: %v\n", err)
		os.Exit(1)
	}
}

// addCallFlags 注册调用目标参数
func addCallFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&toAddr, "to", "", "目标合约或收款地址")
	cmd.Flags().StringVar(&valueWei, "value", "0", "转账金额 (wei)")
	cmd.Flags().StringVar(&dataHex, "data", "", "调用数据 (0x前缀十六进制)")
}

// newLogger 创建CLI日志器
func newLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

// newClient 加载配置、派生密钥并装配钱包客户端。
// 助记词只从环境变量读取，不作为命令行参数暴露
func newClient(logger *logrus.Logger) (*wallet.Client, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("加载配置失败: %w", err)
	}

	mnemonic := os.Getenv("PQWALLET_MNEMONIC")
	if mnemonic == "" {
		return nil, fmt.Errorf("缺少助记词，请设置环境变量 PQWALLET_MNEMONIC")
	}
	passphrase := os.Getenv("PQWALLET_PASSPHRASE")

	level, err := keys.ParseSecurityLevel(cfg.Account.SecurityLevel)
	if err != nil {
		return nil, err
	}

	km, err := keys.DeriveFromMnemonic(mnemonic, passphrase, cfg.Account.DerivationPath, level)
	if err != nil {
		return nil, fmt.Errorf("派生密钥失败: %w", err)
	}

	client, err := wallet.NewClient(cfg, km, logger)
	if err != nil {
		km.Dispose()
		return nil, err
	}
	return client, nil
}

// parseCall 解析命令行调用参数
func parseCall() (userop.Call, error) {
	if !common.IsHexAddress(toAddr) {
		return userop.Call{}, fmt.Errorf("目标地址格式错误: %q", toAddr)
	}

	value, ok := new(big.Int).SetString(valueWei, 10)
	if !ok || value.Sign() < 0 {
		return userop.Call{}, fmt.Errorf("金额格式错误: %q", valueWei)
	}

	var data []byte
	if dataHex != "" {
		var err error
		data, err = hexutil.Decode(dataHex)
		if err != nil {
			return userop.Call{}, fmt.Errorf("调用数据格式错误: %w", err)
		}
	}

	return userop.Call{
		Target: common.HexToAddress(toAddr),
		Value:  value,
		Data:   data,
	}, nil
}

func runQuote(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	call, err := parseCall()
	if err != nil {
		return err
	}

	client, err := newClient(logger)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := context.Background()
	account, err := client.ResolveAccount(ctx)
	if err != nil {
		return fmt.Errorf("解析账户地址失败: %w", err)
	}

	quote, err := client.Quote(ctx, []userop.Call{call})
	if err != nil {
		return fmt.Errorf("gas估算失败: %w", err)
	}

	fmt.Println("💰 Gas报价")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("%-24s: %s\n", "账户", account.Hex())
	fmt.Printf("%-24s: %v\n", "账户已部署", quote.Snapshot.Deployed)
	fmt.Printf("%-24s: %s\n", "pre-verification gas", quote.PreVerificationGas)
	fmt.Printf("%-24s: %s\n", "verification gas limit", quote.VerificationGasLimit)
	fmt.Printf("%-24s: %s\n", "call gas limit", quote.CallGasLimit)
	fmt.Printf("%-24s: %s\n", "总gas", quote.TotalGas)
	fmt.Printf("%-24s: %s wei\n", "最坏情况成本", quote.MaxCost)

	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	call, err := parseCall()
	if err != nil {
		return err
	}

	client, err := newClient(logger)
	if err != nil {
		return err
	}

	// Ctrl+C先中断管线再按序释放资源，已提交的操作由resume子命令接续跟踪
	ctx, cancel, teardown := armShutdown(client, logger)
	defer teardown()

	if _, err := client.ResolveAccount(ctx); err != nil {
		return fmt.Errorf("解析账户地址失败: %w", err)
	}

	calls := []userop.Call{call}
	quote, err := client.Quote(ctx, calls)
	if err != nil {
		return fmt.Errorf("gas估算失败: %w", err)
	}
	logger.Infof("预计最坏情况成本: %s wei", quote.MaxCost)

	result, err := client.Send(ctx, calls, quote)
	if err != nil {
		return fmt.Errorf("发送失败: %w", err)
	}
	cancel()

	fmt.Println("📬 发送结果")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("%-12s: %s\n", "操作哈希", result.OpHash.Hex())
	fmt.Printf("%-12s: %s\n", "最终状态", result.State)
	if result.TxHash != nil {
		fmt.Printf("%-12s: %s\n", "交易哈希", result.TxHash.Hex())
	}
	if result.Reason != "" {
		fmt.Printf("%-12s: %s\n", "说明", result.Reason)
	}

	if result.State != wallet.StateConfirmed {
		// os.Exit跳过defer，先收尾再退出
		teardown()
		os.Exit(1)
	}
	return nil
}

// armShutdown 装配停机管理器：钱包资源按停机顺序注册释放，
// 返回的teardown可重复调用，信号路径与正常退出共用同一套收尾
func armShutdown(client *wallet.Client, logger *logrus.Logger) (context.Context, context.CancelFunc, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	pipelineDone := make(chan struct{})
	var finishOnce sync.Once
	finish := func() { finishOnce.Do(func() { close(pipelineDone) }) }

	gs := shutdown.NewGracefulShutdown(0, logger)
	client.RegisterShutdownHandlers(gs, cancel, pipelineDone)
	gs.Start()

	teardown := func() {
		finish()
		gs.Shutdown()
		gs.Wait()
	}
	return ctx, cancel, teardown
}

func runAddress(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	client, err := newClient(logger)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx := context.Background()
	account, err := client.ResolveAccount(ctx)
	if err != nil {
		return fmt.Errorf("解析账户地址失败: %w", err)
	}

	balance, deposit, err := client.Balances(ctx)
	if err != nil {
		return fmt.Errorf("查询余额失败: %w", err)
	}

	km := client.KeyMaterial()
	fmt.Println("🔑 账户信息")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("%-20s: %s\n", "智能账户地址", account.Hex())
	fmt.Printf("%-20s: %s\n", "经典所有者地址", km.ClassicalAddress.Hex())
	fmt.Printf("%-20s: %s\n", "账户盐值", km.Salt().Hex())
	fmt.Printf("%-20s: %s\n", "后量子安全等级", km.Level)
	fmt.Printf("%-20s: %v\n", "已部署", km.Deployed)
	fmt.Printf("%-20s: %s wei\n", "账户余额", balance)
	fmt.Printf("%-20s: %s wei\n", "EntryPoint预存款", deposit)

	return nil
}

// runStatus 读取本地操作记录，不需要密钥材料
func runStatus(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	store, err := opstore.NewStore(cfg.Store.DBPath, logger)
	if err != nil {
		return fmt.Errorf("打开操作存储失败: %w", err)
	}
	defer store.Close()

	pending, err := store.Pending()
	if err != nil {
		return fmt.Errorf("读取待确认操作失败: %w", err)
	}
	archived, err := store.Archived()
	if err != nil {
		return fmt.Errorf("读取历史操作失败: %w", err)
	}

	fmt.Println("📋 操作记录")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Printf("待确认: %d  历史: %d\n", len(pending), len(archived))

	for _, record := range pending {
		fmt.Printf("  [%s] %s nonce=%s\n", record.Status, record.OpHash.Hex(), record.NonceString())
	}
	for _, record := range archived {
		line := fmt.Sprintf("  [%s] %s nonce=%s", record.Status, record.OpHash.Hex(), record.NonceString())
		if record.TxHash != nil {
			line += " tx=" + record.TxHash.Hex()
		}
		fmt.Println(line)
	}

	return nil
}

// runDecode 离线解码调用数据，不需要配置或密钥
func runDecode(cmd *cobra.Command, args []string) error {
	callData, err := hexutil.Decode(args[0])
	if err != nil {
		return fmt.Errorf("调用数据格式错误: %w", err)
	}

	decoded, err := userop.DecodeCallData(callData)
	if err != nil {
		return err
	}

	fmt.Printf("方法: %s\n", decoded.Method)
	for i, call := range decoded.Calls {
		fmt.Printf("  [%d] target=%s value=%s wei data=%s\n",
			i, call.Target.Hex(), call.Value, hexutil.Encode(call.Data))
	}
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	logger := newLogger()

	client, err := newClient(logger)
	if err != nil {
		return err
	}

	ctx, cancel, teardown := armShutdown(client, logger)
	defer teardown()

	results := client.Resume(ctx)
	cancel()
	if len(results) == 0 {
		fmt.Println("没有待接续跟踪的操作")
		return nil
	}

	for _, result := range results {
		fmt.Printf("[%s] %s", result.State, result.OpHash.Hex())
		if result.TxHash != nil {
			fmt.Printf(" tx=%s", result.TxHash.Hex())
		}
		fmt.Println()
	}

	return nil
}
