// Package notifier renders pull outcomes into chat messages.
//
// A job gets its own notifier bound to the chat the command came from. The
// "searching" message is sent first and later edited into the terminal
// outcome; a delivery replaces it with the images. Replies that must stay
// private (cooldown notices and ephemeral pulls) go to the requester's direct
// chat and fall back to the origin chat when the bot cannot reach it there.
//
// Every outbound call passes one token bucket shared by all jobs.
package notifier
