package models

import (
	"testing"
	"time"
)

func TestChain_Validate(t *testing.T) {
	valid := Chain{ID: "ethereum", DisplayName: "Ethereum", NativeToken: "ETH", BlockTime: 12 * time.Second}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid chain rejected: %v", err)
	}

	bad := valid
	bad.NativeToken = "eth"
	if err := bad.Validate(); err == nil {
		t.Error("lowercase native token accepted")
	}

	bad = valid
	bad.ID = "x"
	if err := bad.Validate(); err == nil {
		t.Error("one-character chain id accepted")
	}
}

func TestAction_Validate(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		wantErr bool
	}{
		{
			name: "valid swap",
			action: Action{
				Kind:     ActionSwap,
				From:     Node{Chain: "ethereum", Asset: "USDC"},
				To:       Node{Chain: "ethereum", Asset: "WETH"},
				GasLimit: 150_000,
			},
		},
		{
			name: "swap crossing chains",
			action: Action{
				Kind:     ActionSwap,
				From:     Node{Chain: "ethereum", Asset: "USDC"},
				To:       Node{Chain: "polygon", Asset: "WETH"},
				GasLimit: 150_000,
			},
			wantErr: true,
		},
		{
			name: "swap keeping asset",
			action: Action{
				Kind:     ActionSwap,
				From:     Node{Chain: "ethereum", Asset: "USDC"},
				To:       Node{Chain: "ethereum", Asset: "USDC"},
				GasLimit: 150_000,
			},
			wantErr: true,
		},
		{
			name: "valid bridge",
			action: Action{
				Kind:     ActionBridge,
				From:     Node{Chain: "ethereum", Asset: "USDC"},
				To:       Node{Chain: "polygon", Asset: "USDC"},
				GasLimit: 100_000,
			},
		},
		{
			name: "bridge on one chain",
			action: Action{
				Kind:     ActionBridge,
				From:     Node{Chain: "ethereum", Asset: "USDC"},
				To:       Node{Chain: "ethereum", Asset: "USDT"},
				GasLimit: 100_000,
			},
			wantErr: true,
		},
		{
			name: "valid transfer",
			action: Action{
				Kind:     ActionTransfer,
				From:     Node{Chain: "ethereum", Asset: "ETH"},
				To:       Node{Chain: "ethereum", Asset: "ETH"},
				GasLimit: 21_000,
			},
		},
		{
			name: "transfer changing asset",
			action: Action{
				Kind:     ActionTransfer,
				From:     Node{Chain: "ethereum", Asset: "ETH"},
				To:       Node{Chain: "ethereum", Asset: "WETH"},
				GasLimit: 21_000,
			},
			wantErr: true,
		},
		{
			name: "unknown kind",
			action: Action{
				Kind:     "teleport",
				From:     Node{Chain: "ethereum", Asset: "USDC"},
				To:       Node{Chain: "polygon", Asset: "USDC"},
				GasLimit: 100_000,
			},
			wantErr: true,
		},
		{
			name: "zero gas limit",
			action: Action{
				Kind: ActionSwap,
				From: Node{Chain: "ethereum", Asset: "USDC"},
				To:   Node{Chain: "ethereum", Asset: "WETH"},
			},
			wantErr: true,
		},
		{
			name: "fee above one",
			action: Action{
				Kind:     ActionBridge,
				From:     Node{Chain: "ethereum", Asset: "USDC"},
				To:       Node{Chain: "polygon", Asset: "USDC"},
				GasLimit: 100_000,
				FeePct:   1.5,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v; wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAction_Key(t *testing.T) {
	a := Action{
		Kind: ActionBridge,
		From: Node{Chain: "ethereum", Asset: "USDC"},
		To:   Node{Chain: "polygon", Asset: "USDC"},
	}
	if got := a.Key(); got != "ethereum/USDC->polygon/USDC" {
		t.Errorf("Key = %q", got)
	}
}
