package models

import "sort"

// PRState PR状态
type PRState string

const (
	PRStateOpen   PRState = "open"   // 开放
	PRStateClosed PRState = "closed" // 关闭(未合并)
	PRStateMerged PRState = "merged" // 已合并
)

// IsClosed 判断PR是否属于关闭类(closed或merged)
// 接受阈值计算时closed与merged一并计入关闭PR
func (s PRState) IsClosed() bool {
	return s == PRStateClosed || s == PRStateMerged
}

// Comment PR时间线中的单条评论
type Comment struct {
	Author    string `json:"author"`
	Timestamp string `json:"timestamp"` // ISO格式时间戳
	Content   string `json:"content"`
}

// PullRequest 单个PR的抓取记录
// 不变量: CommitID非空 当且仅当 State==merged 且某个合并提交检测策略成功
type PullRequest struct {
	Number        int       `json:"number"` // 仓库内唯一
	Title         string    `json:"title"`
	State         PRState   `json:"state"`
	Tags          []string  `json:"tags"`
	Comments      []Comment `json:"comments"`
	RelatedIssues []int     `json:"related_issues"` // 关联Issue编号集合(升序)
	CommitID      string    `json:"commit_id,omitempty"`
	URL           string    `json:"url"`

	// 详情抓取是否已完成(缓存合并时用于判断字段新鲜度,不输出)
	Detailed bool `json:"-"`
}

// PRRef PR列表页发现的轻量引用,详情抓取的输入
type PRRef struct {
	Number int
	URL    string
	State  PRState // 列表页只能区分open/closed,merged在详情页判定
}

// MergeFrom 用更新的详情合并字段
// 只用更新鲜的详情覆盖字段,绝不清空已有详情(缓存合并不变量)
func (pr *PullRequest) MergeFrom(fresh *PullRequest) {
	if fresh == nil {
		return
	}
	if fresh.Title != "" {
		pr.Title = fresh.Title
	}
	if fresh.State != "" {
		pr.State = fresh.State
	}
	if len(fresh.Tags) > 0 {
		pr.Tags = fresh.Tags
	}
	if len(fresh.Comments) > 0 {
		pr.Comments = fresh.Comments
	}
	if len(fresh.RelatedIssues) > 0 {
		pr.RelatedIssues = fresh.RelatedIssues
	}
	if fresh.CommitID != "" {
		pr.CommitID = fresh.CommitID
	}
	if fresh.URL != "" {
		pr.URL = fresh.URL
	}
	if fresh.Detailed {
		pr.Detailed = true
	}
}

// SortIssueNumbers 对关联Issue编号去重并升序排序
func SortIssueNumbers(nums []int) []int {
	seen := make(map[int]bool, len(nums))
	out := make([]int, 0, len(nums))
	for _, n := range nums {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Ints(out)
	return out
}
