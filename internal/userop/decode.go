package userop

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// DecodedCallData 解码后的账户调用数据
type DecodedCallData struct {
	Method string `json:"method"`
	Calls  []Call `json:"calls"`
}

// DecodeCallData 把账户调用数据解码回调用列表，EncodeCallData的逆操作。
// 只认账户合约自身的调用面，其他selector报错
func DecodeCallData(callData []byte) (*DecodedCallData, error) {
	if len(callData) < 4 {
		return nil, fmt.Errorf("调用数据不足4字节selector")
	}

	method, err := accountABI.MethodById(callData[:4])
	if err != nil {
		return nil, fmt.Errorf("未知的调用selector %#x", callData[:4])
	}

	values, err := method.Inputs.Unpack(callData[4:])
	if err != nil {
		return nil, fmt.Errorf("解码 %s 参数失败: %w", method.Name, err)
	}

	decoded := &DecodedCallData{Method: method.Name}

	switch method.Name {
	case "execute":
		decoded.Calls = []Call{{
			Target: *abi.ConvertType(values[0], new(common.Address)).(*common.Address),
			Value:  values[1].(*big.Int),
			Data:   *abi.ConvertType(values[2], new([]byte)).(*[]byte),
		}}
	case "executeBatch":
		batch := *abi.ConvertType(values[0], new([]accountCall)).(*[]accountCall)
		decoded.Calls = make([]Call, len(batch))
		for i, c := range batch {
			decoded.Calls[i] = Call{Target: c.Target, Value: c.Value, Data: c.Data}
		}
	default:
		return nil, fmt.Errorf("不支持的调用方法: %s", method.Name)
	}

	return decoded, nil
}

// DecodeCreateWallet 解码工厂部署调用数据，返回后量子公钥与经典所有者
func DecodeCreateWallet(factoryData []byte) (pqPublicKey []byte, classicalOwner common.Address, err error) {
	method, ok := factoryABI.Methods["createWallet"]
	if !ok || len(factoryData) < 4 || !bytes.Equal(factoryData[:4], method.ID) {
		return nil, common.Address{}, fmt.Errorf("不是createWallet调用数据")
	}

	values, err := method.Inputs.Unpack(factoryData[4:])
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("解码createWallet参数失败: %w", err)
	}

	pqPublicKey = *abi.ConvertType(values[0], new([]byte)).(*[]byte)
	classicalOwner = *abi.ConvertType(values[1], new(common.Address)).(*common.Address)
	return pqPublicKey, classicalOwner, nil
}
