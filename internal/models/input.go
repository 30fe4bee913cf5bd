package models

// InputRepository 输入JSON文件中的仓库条目
type InputRepository struct {
	URL      string   `json:"url"`
	Stars    int      `json:"stars"`
	Language []string `json:"language"`
}

// InputSummary 输入JSON文件中的汇总信息
type InputSummary struct {
	TotalRepositories int                    `json:"total_repositories"`
	TotalStars        int                    `json:"total_stars"`
	AverageStars      float64                `json:"average_stars"`
	TopRepository     map[string]interface{} `json:"top_repository"`
}

// InputData 完整的输入数据结构(按语言分组的仓库集合)
type InputData struct {
	Language     string            `json:"language"`
	Summary      InputSummary      `json:"summary"`
	Repositories []InputRepository `json:"repositories"`
}
