package dispatch

// User-facing canned replies.
const (
	replyProcessed        = "Processed ✓"
	replyCancelled        = "Cancelled ✓"
	replyCouldNotHear     = "Sorry, I couldn't make out that voice message. Could you type it instead?"
	replyUnsupported      = "I can't handle that kind of message yet. Try sending text."
	replyAlreadyMember    = "You're already registered with your family."
	replyNothingToConfirm = "There's nothing waiting for confirmation."
	replyActionExpired    = "That action has expired. Please start it again."
	replyEntryGone        = "That entry no longer exists."

	replyWelcome = "Hi! I'm your family finance assistant.\n" +
		"Are you starting a new family budget or joining an existing one?"
	replyChooseProfile = "Great! Which best describes how you'll use me?"
	replyAskInvite     = "Please send the invite code you received from your family."
	replyInviteShort   = "Invite codes are at least 4 characters long. Please send your invite code."
	replyInviteUnknown = "I couldn't find a family with that code. Please check it and send it again."
	replyFinishSetup   = "Let's finish setting up first."
)
