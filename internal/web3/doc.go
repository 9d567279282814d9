// Package web3 describes how tools talk to EVM chains: the contract call
// descriptor a tool builds, the ContractCaller that submits it, the ERC-20
// ABI and the YAML chain definitions that map chain ids onto RPC endpoints.
package web3
