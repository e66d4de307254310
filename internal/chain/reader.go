package chain

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"pqwallet/internal/errors"
	"pqwallet/internal/userop"
)

// entryPointABIJSON 入口点合约的只读调用面
const entryPointABIJSON = `[
	{"type":"function","name":"getNonce","inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"outputs":[{"name":"nonce","type":"uint256"}],"stateMutability":"view"},
	{"type":"function","name":"balanceOf","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"}
]`

var entryPointABI abi.ABI

func init() {
	var err error
	entryPointABI, err = abi.JSON(strings.NewReader(entryPointABIJSON))
	if err != nil {
		panic("解析入口点ABI失败: " + err.Error())
	}
}

// Reader 链上只读访问：nonce、部署探测、EIP-1559费率、余额与工厂地址预测
type Reader struct {
	conn       *Conn
	entryPoint common.Address
	factory    common.Address
	logger     *logrus.Logger
}

// NewReader 创建链上读取器
func NewReader(conn *Conn, entryPoint, factory common.Address, logger *logrus.Logger) *Reader {
	if logger == nil {
		logger = logrus.New()
	}
	return &Reader{
		conn:       conn,
		entryPoint: entryPoint,
		factory:    factory,
		logger:     logger,
	}
}

// ChainID 返回节点链ID
func (r *Reader) ChainID(ctx context.Context) (*big.Int, error) {
	client, err := r.conn.Client(ctx)
	if err != nil {
		return nil, err
	}
	return client.ChainID(ctx)
}

// Nonce 读取入口点记录的账户nonce（key固定为0）
func (r *Reader) Nonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	input, err := entryPointABI.Pack("getNonce", sender, new(big.Int))
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSerialization,
			errors.SeverityHigh, "NONCE_ENCODE_FAILED", "编码getNonce调用失败")
	}

	output, err := r.callContract(ctx, r.entryPoint, input)
	if err != nil {
		return nil, err
	}

	values, err := entryPointABI.Unpack("getNonce", output)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSerialization,
			errors.SeverityHigh, "NONCE_DECODE_FAILED", "解码getNonce返回值失败")
	}
	return values[0].(*big.Int), nil
}

// IsDeployed 探测账户地址上是否已有代码
func (r *Reader) IsDeployed(ctx context.Context, account common.Address) (bool, error) {
	client, err := r.conn.Client(ctx)
	if err != nil {
		return false, err
	}
	code, err := client.CodeAt(ctx, account, nil)
	if err != nil {
		return false, errors.WrapError(err, errors.ErrorTypeChain,
			errors.SeverityMedium, "CODE_PROBE_FAILED", "读取账户代码失败")
	}
	return len(code) > 0, nil
}

// Balance 读取地址余额
func (r *Reader) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	client, err := r.conn.Client(ctx)
	if err != nil {
		return nil, err
	}
	balance, err := client.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeChain,
			errors.SeverityMedium, "BALANCE_READ_FAILED", "读取余额失败")
	}
	return balance, nil
}

// Deposit 读取入口点内账户的预存款
func (r *Reader) Deposit(ctx context.Context, account common.Address) (*big.Int, error) {
	input, err := entryPointABI.Pack("balanceOf", account)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSerialization,
			errors.SeverityHigh, "DEPOSIT_ENCODE_FAILED", "编码balanceOf调用失败")
	}

	output, err := r.callContract(ctx, r.entryPoint, input)
	if err != nil {
		return nil, err
	}

	values, err := entryPointABI.Unpack("balanceOf", output)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeSerialization,
			errors.SeverityHigh, "DEPOSIT_DECODE_FAILED", "解码balanceOf返回值失败")
	}
	return values[0].(*big.Int), nil
}

// FeeData EIP-1559费率：maxFee = 2*baseFee + tip，为下一个区块的基础费波动留余量。
// 节点不支持1559时回退到传统gas价格
func (r *Reader) FeeData(ctx context.Context) (maxFee, maxPriority *big.Int, err error) {
	client, err := r.conn.Client(ctx)
	if err != nil {
		return nil, nil, err
	}

	tip, err := client.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, errors.WrapError(err, errors.ErrorTypeChain,
			errors.SeverityMedium, "FEE_READ_FAILED", "读取小费建议失败")
	}

	header, err := client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, errors.WrapError(err, errors.ErrorTypeChain,
			errors.SeverityMedium, "FEE_READ_FAILED", "读取最新区块头失败")
	}

	if header.BaseFee == nil {
		gasPrice, err := client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, nil, errors.WrapError(err, errors.ErrorTypeChain,
				errors.SeverityMedium, "FEE_READ_FAILED", "读取gas价格失败")
		}
		return gasPrice, gasPrice, nil
	}

	maxFee = new(big.Int).Mul(header.BaseFee, big.NewInt(2))
	maxFee.Add(maxFee, tip)
	return maxFee, tip, nil
}

// WalletAddress 调用工厂预测账户地址（CREATE2确定性地址）
func (r *Reader) WalletAddress(ctx context.Context, pqPublicKey []byte, classicalOwner common.Address) (common.Address, error) {
	input, err := userop.PackGetWalletAddress(pqPublicKey, classicalOwner)
	if err != nil {
		return common.Address{}, errors.WrapError(err, errors.ErrorTypeSerialization,
			errors.SeverityHigh, "FACTORY_ENCODE_FAILED", "编码getWalletAddress调用失败")
	}

	output, err := r.callContract(ctx, r.factory, input)
	if err != nil {
		return common.Address{}, err
	}

	addr, err := userop.UnpackWalletAddress(output)
	if err != nil {
		return common.Address{}, errors.WrapError(err, errors.ErrorTypeSerialization,
			errors.SeverityHigh, "FACTORY_DECODE_FAILED", "解码getWalletAddress返回值失败")
	}
	return addr, nil
}

// Snapshot 并行捕获一次发送所需的链上状态：nonce、部署判定与费率。
// 同一快照在quote与send之间原样复用，保证两侧看到一致的链上视图
func (r *Reader) Snapshot(ctx context.Context, sender common.Address) (*userop.ChainState, error) {
	var (
		wg       sync.WaitGroup
		state    userop.ChainState
		nonceErr error
		codeErr  error
		feeErr   error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		state.Nonce, nonceErr = r.Nonce(ctx, sender)
	}()
	go func() {
		defer wg.Done()
		state.Deployed, codeErr = r.IsDeployed(ctx, sender)
	}()
	go func() {
		defer wg.Done()
		state.MaxFeePerGas, state.MaxPriorityFeePerGas, feeErr = r.FeeData(ctx)
	}()
	wg.Wait()

	for _, err := range []error{nonceErr, codeErr, feeErr} {
		if err != nil {
			return nil, err
		}
	}

	r.logger.WithFields(logrus.Fields{
		"sender":   sender.Hex(),
		"nonce":    state.Nonce.String(),
		"deployed": state.Deployed,
		"max_fee":  state.MaxFeePerGas.String(),
	}).Debug("链上快照已捕获")

	return &state, nil
}

// callContract 对合约发起只读调用
func (r *Reader) callContract(ctx context.Context, to common.Address, input []byte) ([]byte, error) {
	client, err := r.conn.Client(ctx)
	if err != nil {
		return nil, err
	}

	output, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeChain,
			errors.SeverityMedium, "CONTRACT_CALL_FAILED", "合约只读调用失败")
	}
	return output, nil
}
