package userop

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Call 单笔目标调用
type Call struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// ChainState 一轮链上读取的快照：由quote捕获一次，配对的send原样复用
type ChainState struct {
	Nonce                *big.Int
	Deployed             bool
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
}

// UserOperation 操作草稿。签名前Signature为空；部署字段仅在账户未部署时出现
type UserOperation struct {
	Sender               common.Address
	Nonce                *big.Int
	Factory              *common.Address
	FactoryData          []byte
	CallData             []byte
	CallGasLimit         *big.Int
	VerificationGasLimit *big.Int
	PreVerificationGas   *big.Int
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	PaymasterAndData     []byte
	Signature            []byte
}

// InitCode 返回 factory‖factoryData，未部署字段缺失时为空
func (op *UserOperation) InitCode() []byte {
	if op.Factory == nil {
		return nil
	}
	initCode := make([]byte, 0, 20+len(op.FactoryData))
	initCode = append(initCode, op.Factory.Bytes()...)
	initCode = append(initCode, op.FactoryData...)
	return initCode
}

// accountABIJSON 智能账户的调用面（与链上账户合约的ABI形状一致）
const accountABIJSON = `[
	{"type":"function","name":"execute","inputs":[{"name":"target","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"executeBatch","inputs":[{"name":"calls","type":"tuple[]","components":[{"name":"target","type":"address"},{"name":"value","type":"uint256"},{"name":"data","type":"bytes"}]}],"outputs":[]}
]`

// factoryABIJSON 工厂合约的调用面
const factoryABIJSON = `[
	{"type":"function","name":"createWallet","inputs":[{"name":"pqPublicKey","type":"bytes"},{"name":"classicalOwner","type":"address"}],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getWalletAddress","inputs":[{"name":"pqPublicKey","type":"bytes"},{"name":"classicalOwner","type":"address"}],"outputs":[{"name":"","type":"address"}],"stateMutability":"view"}
]`

var (
	accountABI abi.ABI
	factoryABI abi.ABI
)

func init() {
	var err error
	accountABI, err = abi.JSON(strings.NewReader(accountABIJSON))
	if err != nil {
		panic("解析账户ABI失败: " + err.Error())
	}
	factoryABI, err = abi.JSON(strings.NewReader(factoryABIJSON))
	if err != nil {
		panic("解析工厂ABI失败: " + err.Error())
	}
}

// accountCall executeBatch的tuple参数形状
type accountCall struct {
	Target common.Address
	Value  *big.Int
	Data   []byte
}

// EncodeCallData 编码调用数据：单笔调用走execute，多笔调用走executeBatch
func EncodeCallData(calls []Call) ([]byte, error) {
	switch len(calls) {
	case 0:
		return nil, errEmptyCalls
	case 1:
		c := calls[0]
		return accountABI.Pack("execute", c.Target, valueOrZero(c.Value), c.Data)
	default:
		batch := make([]accountCall, len(calls))
		for i, c := range calls {
			batch[i] = accountCall{
				Target: c.Target,
				Value:  valueOrZero(c.Value),
				Data:   c.Data,
			}
		}
		return accountABI.Pack("executeBatch", batch)
	}
}

// EncodeCreateWallet 编码工厂createWallet调用数据
func EncodeCreateWallet(pqPublicKey []byte, classicalOwner common.Address) ([]byte, error) {
	return factoryABI.Pack("createWallet", pqPublicKey, classicalOwner)
}

// PackGetWalletAddress 编码工厂getWalletAddress只读调用
func PackGetWalletAddress(pqPublicKey []byte, classicalOwner common.Address) ([]byte, error) {
	return factoryABI.Pack("getWalletAddress", pqPublicKey, classicalOwner)
}

// UnpackWalletAddress 解码getWalletAddress返回值
func UnpackWalletAddress(output []byte) (common.Address, error) {
	values, err := factoryABI.Unpack("getWalletAddress", output)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(values[0], new(common.Address)).(*common.Address), nil
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
