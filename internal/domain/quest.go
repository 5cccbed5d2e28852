package domain

// QuestID identifies a quest on the backend's quest list.
type QuestID string

const (
	QuestLogSleepOnce     QuestID = "log_sleep_once"
	QuestLogThreeSleeps   QuestID = "log_3_sleeps"
	QuestPlayMemoryCalm   QuestID = "play_memory_calm"
	QuestSetSleepReminder QuestID = "set_sleep_reminder"
	QuestGenerateStory    QuestID = "generate_story"
)
