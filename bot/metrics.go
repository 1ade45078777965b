package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var postsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gazobot_posts_published",
	Help: "Number of scheduled posts, by outcome",
}, []string{"result"})

var intakeImages = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gazobot_intake_images",
	Help: "Number of submitted images processed, by outcome",
}, []string{"result"})

var commandsAnswered = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gazobot_commands_answered",
	Help: "Number of text commands answered",
}, []string{"command"})

var notificationErrors = promauto.NewCounter(prometheus.CounterOpts{
	Name: "gazobot_notification_errors",
	Help: "Number of mentions that failed to be handled",
})

var backupsRun = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gazobot_backups",
	Help: "Number of backups, by outcome",
}, []string{"result"})

var taskErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gazobot_task_errors",
	Help: "Number of failed scheduled tasks",
}, []string{"task"})
