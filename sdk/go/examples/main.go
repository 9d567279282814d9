package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"AgentTx-ERC20/sdk/go/agenttx"
)

// A minimal caller: precheck, then execute when the parameters are valid.
// Usage: AGENTTX_URL=http://127.0.0.1:8080 AGENTTX_API_KEY=... go run ./sdk/go/examples <to> <amount> <token>
func main() {
	if len(os.Args) != 4 {
		fmt.Fprintln(os.Stderr, "usage: examples <to> <amount> <tokenAddress>")
		os.Exit(2)
	}
	baseURL := os.Getenv("AGENTTX_URL")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8080"
	}

	client, err := agenttx.NewClient(baseURL, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	client.SetAPIKey(os.Getenv("AGENTTX_API_KEY"))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	params := agenttx.Parameters{To: os.Args[1], Amount: os.Args[2], TokenAddress: os.Args[3]}
	check, err := client.Precheck(ctx, params)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !check.Success {
		fmt.Printf("precheck rejected: %s (%s)\n", check.Error, check.ErrorCode)
		os.Exit(1)
	}

	resp, err := client.Execute(ctx, "", params)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if !resp.Result.Success {
		fmt.Printf("transfer %s failed: %s (%s)\n", resp.InvocationID, resp.Result.Error, resp.Result.ErrorCode)
		os.Exit(1)
	}
	fmt.Printf("transfer %s submitted: %s\n", resp.InvocationID, resp.Result.TxHash)
}
