package lifecycle

// Challenge lifecycle.
const (
	ChallengeNotStarted State = "not-started"
	ChallengeInProgress State = "in-progress"
	ChallengeCompleted  State = "completed"
	ChallengeSkipped    State = "skipped"
)

// Goal lifecycle. Goals may jump straight from not-started to completed.
const (
	GoalNotStarted State = "not-started"
	GoalInProgress State = "in-progress"
	GoalCompleted  State = "completed"
	GoalSkipped    State = "skipped"
)

// Topic lifecycle.
const (
	TopicNotExplored State = "not-explored"
	TopicExplored    State = "explored"
	TopicSkipped     State = "skipped"
)

var ChallengeTable = Table{
	ChallengeNotStarted: {ChallengeInProgress, ChallengeSkipped},
	ChallengeInProgress: {ChallengeCompleted, ChallengeSkipped},
}

var GoalTable = Table{
	GoalNotStarted: {GoalInProgress, GoalCompleted, GoalSkipped},
	GoalInProgress: {GoalCompleted, GoalSkipped},
}

var TopicTable = Table{
	TopicNotExplored: {TopicExplored, TopicSkipped},
}
