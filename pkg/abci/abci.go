package abci

// Hash is a 32-byte application state commitment
type Hash [32]byte

type RequestPrepareProposal struct{ Height, MaxTxBytes int64 }
type ResponsePrepareProposal struct{ Txs [][]byte }
type RequestProcessProposal struct {
	Height int64
	Txs    [][]byte
}
type ResponseProcessProposal struct{ Accept bool }
type RequestFinalizeBlock struct {
	Height    int64
	Timestamp int64 // Unix milliseconds
	Txs       [][]byte
}
type ResponseFinalizeBlock struct {
	Events  []string
	AppHash Hash // Hash of application state after execution
}

type Application interface {
	PrepareProposal(RequestPrepareProposal) ResponsePrepareProposal
	ProcessProposal(RequestProcessProposal) ResponseProcessProposal
	// FinalizeBlock fails only when the block could not be made durable;
	// the caller must stop producing blocks
	FinalizeBlock(RequestFinalizeBlock) (ResponseFinalizeBlock, error)
}
