// Package erc20 implements the delegated ERC-20 transfer tool. A caller runs
// Precheck to reject malformed requests, the host evaluates the bound
// policies, and Execute submits the transfer with the delegated signer before
// committing the policy's bookkeeping. The commit step is best effort: once a
// transaction hash exists, a bookkeeping failure is logged and alerted but the
// transfer result is returned unchanged.
//
// Decimals default to 6 and are not read from the token contract. Tokens with
// a different precision must be configured with WithDecimals, otherwise the
// submitted amount is scaled wrongly.
package erc20
