package indexer

// Chain modules whose events are projected.
const (
	IdentityModule   = "identity"
	PortfolioModule  = "portfolio"
	SettlementModule = "settlement"
	MultiSigModule   = "multiSig"
)

// identity events
const (
	DidCreated                     = "DidCreated"
	SecondaryKeysAdded             = "SecondaryKeysAdded"
	SecondaryKeysFrozen            = "SecondaryKeysFrozen"
	SecondaryKeysUnfrozen          = "SecondaryKeysUnfrozen"
	SecondaryKeysRemoved           = "SecondaryKeysRemoved"
	SecondaryKeyPermissionsUpdated = "SecondaryKeyPermissionsUpdated"
	PrimaryKeyUpdated              = "PrimaryKeyUpdated"
	SecondaryKeyLeftIdentity       = "SecondaryKeyLeftIdentity"
)

// portfolio events
const (
	PortfolioCreated = "PortfolioCreated"
	PortfolioRenamed = "PortfolioRenamed"
	PortfolioDeleted = "PortfolioDeleted"
)

// settlement events
const (
	VenueCreated                 = "VenueCreated"
	VenueDetailsUpdated          = "VenueDetailsUpdated"
	VenueTypeUpdated             = "VenueTypeUpdated"
	InstructionCreated           = "InstructionCreated"
	InstructionAffirmed          = "InstructionAffirmed"
	AffirmationWithdrawn         = "AffirmationWithdrawn"
	InstructionExecuted          = "InstructionExecuted"
	InstructionRejected          = "InstructionRejected"
	InstructionFailed            = "InstructionFailed"
	FailedToExecuteInstruction   = "FailedToExecuteInstruction"
	InstructionMediators         = "InstructionMediators"
	MediatorAffirmationReceived  = "MediatorAffirmationReceived"
	MediatorAffirmationWithdrawn = "MediatorAffirmationWithdrawn"
)

// multiSig events
const (
	MultiSigCreated                   = "MultiSigCreated"
	MultiSigSignerAuthorized          = "MultiSigSignerAuthorized"
	MultiSigSignerAdded               = "MultiSigSignerAdded"
	MultiSigSignerRemoved             = "MultiSigSignerRemoved"
	MultiSigSignaturesRequiredChanged = "MultiSigSignaturesRequiredChanged"
	ProposalAdded                     = "ProposalAdded"
	ProposalApproved                  = "ProposalApproved"
	ProposalRejectionVote             = "ProposalRejectionVote"
	ProposalRejected                  = "ProposalRejected"
	ProposalExecuted                  = "ProposalExecuted"
)
