package transcript

var defaultTranscript = Transcript{
	ProgramName: "Hack Club",
	FAQLink:     "https://hackclub.com/slack",

	FirstTicketCreate: "oh, hey (user) it looks like this is your first time here, welcome! someone should be along to help you soon " +
		"but in the mean time i suggest you read the faq <{faq_link}|here>, it answers a lot of common questions.\n" +
		"if your question has been answered, please hit the button below to mark it as resolved",
	TicketCreate: "someone should be along to help you soon but in the mean time i suggest you read the faq <{faq_link}|here> " +
		"to make sure your question hasn't already been answered. if it has been, please hit the button below to mark it as resolved :D",
	ResolveTicketButton: "i get it now",
	TicketResolve: "this post has been marked as resolved by <@{user_id}>! if you have any more questions, " +
		"please make a new post in <#{help_channel}> and someone'll be happy to help you out!",
	TicketResolveStale: "this post has been automatically marked as resolved because nobody has replied in a while. " +
		"if you still need help, please make a new post in <#{help_channel}>!",
	TicketReopen:          "this ticket has been reopened by <@{helper_slack_id}>, someone will be with you shortly!",
	ThreadBroadcastDelete: "hey! please keep your messages *all in one thread* to make it easier to read! i've gone ahead and removed that message from the channel for ya :D",
	NotAuthorizedTags:     "You are not authorized to assign tags.",

	FAQMacro: "hey (user)! this question is answered in the faq <{faq_link}|here>.\n\n" +
		"_i've marked this question as resolved, so please start a new thread if you need more help_",
	IdentityMacro: "hey (user)! please could you ask questions about identity verification in the identity help channel?\n\n" +
		"_i've marked this thread as resolved_",
	FraudMacro: "Hiya (user)! Would you mind directing any fraud related queries to the fraud team? :rac_cute:\n\n" +
		"It'll keep your case confidential and make it easier for the fraud team to keep track of!",
	BannedMacro: "hey, (user).\nyou seem to be banned. this mean you can no longer participate in this program.\n" +
		"if you are looking to appeal your ban, this is not the place for that.\nthis thread will now be closed.",
	HelloMacro: "hey, (user)! i'm heidi :rac_shy: say hi to orpheus for me would you? :rac_cute:",
}

func summerOfMaking() Transcript {
	t := defaultTranscript
	t.ProgramName = "Summer of Making"
	t.ProgramOwner = "U054VC2KM9P"
	t.FAQLink = "https://hackclub.slack.com/docs/T0266FRGM/F090MQF0H2Q"
	t.TicketResolve = "oh, oh! it looks like this post has been marked as resolved by <@{user_id}>! if you have any more questions, " +
		"please make a new post in <#{help_channel}> and someone'll be happy to help you out! not me though, i'm just a silly racoon ^-^"
	t.ShipCertQueueMacro = "hi (user)! unfortunately, there is a backlog of projects awaiting ship certification; please be patient. \n\n" +
		" *pssst... voting more will move your project further towards the front of the queue.*"
	return t
}

func flavortown() Transcript {
	t := defaultTranscript
	t.ProgramName = "Flavortown"
	t.ProgramOwner = "U073M5L9U13"
	t.FAQLink = "https://hackclub.slack.com/docs/T0266FRGM/F09NKF58FL5"
	t.FirstTicketCreate = ":rac_info: Hey there (user), and welcome to the support channel! While we wait for someone to help you out, I have a couple of requests for you:\n" +
		"• Take a look through <{faq_link}|*the FAQ*> – you may find a solution waiting there\n" +
		"• Once your question has been answered, hit that green button below!"
	t.TicketCreate = ":rac_info: Ah, hello! While we wait for a human to come and help you out, I've been told to remind you to:\n" +
		"• Have a read of <{faq_link}|*the FAQ*> – it might have the answer you're looking for\n" +
		"• Once your question is answered, hit the button below!"
	t.TicketResolve = "Aha, this post has just been marked as resolved by <@{user_id}>! I'll head back to the kitchen now, " +
		"but if you need any more help, just send another message in <#{help_channel}> and I'll be right back o/"
	t.FAQMacro = "Hi (user), this question is already answered in our FAQ! Here's the link again: <{faq_link}|*Flavortown FAQ*>.\n\n" +
		"_I've marked this question as resolved, so please start a new thread if you need more help_"
	t.IdentityMacro = "Hi (user), please could you ask questions about identity verification in <#C092833JXKK>? :rac_cute:\n\n" +
		"It helps the verification team keep track of questions easier!\n\n_I've marked this thread as resolved_"
	t.FraudMacro = "Hi (user), would you mind directing any fraud related queries to <@U091HC53CE8>? :rac_cute:\n\n" +
		"It'll keep your case confidential and make it easier for the fraud team to keep track of!\n\n_I've marked this thread as resolved_"
	t.ShipCertQueueMacro = "Hey (user), we currently have a backlog of projects waiting to be certified. Please be patient.\n\n" +
		"*You can keep track of the queue <https://us.review.hackclub.com/queue | here>!*"
	return t
}

var builtins = map[string]Transcript{
	"default":          defaultTranscript,
	"summer_of_making": summerOfMaking(),
	"flavortown":       flavortown(),
}
