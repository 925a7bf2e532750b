package config

// DefaultYAML is the built-in rule set: point table, anti-gaming limits, bonuses and badges.
const DefaultYAML = `actions:
  # Personal development
  - id: pdi_milestone_completed
    name: PDI milestone completed
    category: DEVELOPMENT
    base_points: 100
    eligible_profiles: [BOTH]
  - id: competency_level_up
    name: Competency level up
    category: DEVELOPMENT
    base_points: 75
    eligible_profiles: [BOTH]
  - id: key_result_achieved
    name: Key result achieved
    category: DEVELOPMENT
    base_points: 150
    eligible_profiles: [BOTH]
  - id: pdi_cycle_completed
    name: PDI cycle completed
    category: DEVELOPMENT
    base_points: 300
    eligible_profiles: [BOTH]
  - id: self_assessment_completed
    name: Self assessment completed
    category: DEVELOPMENT
    base_points: 35
    eligible_profiles: [BOTH]
    weekly_cap: 4
  - id: learning_goal_set
    name: Learning goal set
    category: DEVELOPMENT
    base_points: 30
    eligible_profiles: [BOTH]
    weekly_cap: 1
  - id: pdi_meeting_documented
    name: PDI meeting documented
    category: DEVELOPMENT
    base_points: 45
    eligible_profiles: [BOTH]
    weekly_cap: 1

  # Collaboration and mentoring
  - id: meaningful_feedback_given
    name: Meaningful feedback
    description: Constructive, specific feedback for a colleague
    category: COLLABORATION
    base_points: 40
    eligible_profiles: [BOTH]
    cooldown_hours: 72
    cooldown_scope: target
    weekly_cap: 5
    min_quality_rating: 4.0
  - id: development_mentoring_session
    name: Mentoring session
    description: Development-focused mentoring session
    category: COLLABORATION
    base_points: 60
    eligible_profiles: [BOTH]
    cooldown_hours: 168
    cooldown_scope: target
    weekly_cap: 3
    min_quality_rating: 4.5
  - id: peer_development_support
    name: Peer development support
    category: COLLABORATION
    base_points: 50
    eligible_profiles: [BOTH]
    cooldown_hours: 24
    weekly_cap: 10
    bonus_group: leadership_influence
  - id: knowledge_sharing_session
    name: Knowledge sharing session
    description: Talk or workshop for the team
    category: COLLABORATION
    base_points: 80
    eligible_profiles: [BOTH]
    cooldown_hours: 168
    weekly_cap: 2
    requires_evidence: true
    min_quality_rating: 4.0
    bonus_group: leadership_influence
  - id: cross_team_collaboration
    name: Cross-team collaboration
    category: COLLABORATION
    base_points: 70
    eligible_profiles: [BOTH]
    cooldown_hours: 24
    weekly_cap: 5
  - id: junior_onboarding_support
    name: Onboarding support
    category: COLLABORATION
    base_points: 90
    eligible_profiles: [BOTH]
    cooldown_hours: 72
    weekly_cap: 2
    requires_evidence: true
    bonus_group: leadership_influence
  - id: career_coaching_session
    name: Career coaching session
    category: COLLABORATION
    base_points: 80
    eligible_profiles: [BOTH]
    cooldown_hours: 168
    cooldown_scope: target
    weekly_cap: 2
    requires_evidence: true
    min_quality_rating: 4.5
  - id: performance_improvement_support
    name: Performance improvement support
    category: COLLABORATION
    base_points: 100
    eligible_profiles: [BOTH]
    cooldown_hours: 168
    weekly_cap: 1
    requires_evidence: true

  # Team contribution
  - id: team_goal_contribution
    name: Team goal contribution
    category: TEAM_CONTRIBUTION
    base_points: 100
    eligible_profiles: [BOTH]
    cooldown_hours: 168
    weekly_cap: 3
  - id: process_improvement
    name: Process improvement
    description: A process change that measurably helps the team
    category: TEAM_CONTRIBUTION
    base_points: 120
    eligible_profiles: [BOTH]
    cooldown_hours: 168
    weekly_cap: 2
    requires_evidence: true
  - id: team_retrospective_facilitation
    name: Retrospective facilitation
    category: TEAM_CONTRIBUTION
    base_points: 60
    eligible_profiles: [BOTH]
    cooldown_hours: 168
    weekly_cap: 1
    min_quality_rating: 4.0
    bonus_group: leadership_influence
  - id: conflict_resolution_support
    name: Conflict resolution
    category: TEAM_CONTRIBUTION
    base_points: 80
    eligible_profiles: [BOTH]
    cooldown_hours: 72
    weekly_cap: 3
    bonus_group: leadership_influence
  - id: team_culture_building
    name: Team culture building
    category: TEAM_CONTRIBUTION
    base_points: 50
    eligible_profiles: [BOTH]
    cooldown_hours: 24
    weekly_cap: 7
    bonus_group: leadership_influence
  - id: documentation_contribution
    name: Documentation contribution
    category: TEAM_CONTRIBUTION
    base_points: 40
    eligible_profiles: [BOTH]
    cooldown_hours: 24
    weekly_cap: 10

  # Learning goal bonuses
  - id: goal_completion_30_days
    name: Goal completed within 30 days
    category: BONUS
    base_points: 50
    eligible_profiles: [BOTH]
  - id: goal_completion_early
    name: Goal completed early
    category: BONUS
    base_points: 70
    eligible_profiles: [BOTH]
  - id: goal_shared_with_team
    name: Goal shared with team
    category: BONUS
    base_points: 20
    eligible_profiles: [BOTH]
  - id: goal_applied_at_work
    name: Goal applied at work
    category: BONUS
    base_points: 40
    eligible_profiles: [BOTH]

multipliers:
  - id: ic_leadership_influence
    profile: IC
    bonus_group: leadership_influence
    multiplier: 1.30
    reason: IC leading by influence
  - id: manager_team_contribution
    profile: MANAGER
    category: TEAM_CONTRIBUTION
    multiplier: 2.00
    reason: Manager process and team impact

badges:
  - id: first_development
    name: First Steps
    description: Record a first development action
    rarity: common
    criteria: {type: category_count, category: DEVELOPMENT, target: 1}
  - id: first_milestone
    name: PDI Starter
    description: Complete a first PDI milestone
    rarity: common
    criteria: {type: action_count, action: pdi_milestone_completed, target: 1}
  - id: milestone_master
    name: Milestone Master
    description: Complete 10 PDI milestones
    rarity: rare
    criteria: {type: action_count, action: pdi_milestone_completed, target: 10}
  - id: goal_crusher
    name: Goal Crusher
    description: Complete 5 PDI milestones within a week
    rarity: epic
    criteria: {type: window_action_count, action: pdi_milestone_completed, target: 5, window_days: 7}
  - id: development_master
    name: Development Master
    description: Complete a full PDI cycle
    rarity: epic
    criteria: {type: action_count, action: pdi_cycle_completed, target: 1}
  - id: competency_builder
    name: Competency Builder
    description: Level up 5 competencies
    rarity: rare
    criteria: {type: action_count, action: competency_level_up, target: 5}
  - id: team_player
    name: Team Player
    description: Take part in 5 collaboration actions
    rarity: common
    criteria: {type: category_count, category: COLLABORATION, target: 5}
  - id: feedback_giver
    name: Feedback Champion
    description: Give feedback 20 times
    rarity: common
    criteria: {type: action_count, action: meaningful_feedback_given, target: 20}
  - id: peer_supporter
    name: Peer Supporter
    description: Give feedback to 3 different colleagues
    rarity: common
    criteria: {type: distinct_targets, action: meaningful_feedback_given, target: 3}
  - id: knowledge_sharer
    name: Knowledge Sharer
    description: Run 5 knowledge sharing sessions
    rarity: rare
    criteria: {type: action_count, action: knowledge_sharing_session, target: 5}
  - id: mentor
    name: Mentor
    description: Mentor 3 different colleagues
    rarity: rare
    criteria: {type: distinct_targets, action: development_mentoring_session, target: 3}
  - id: team_builder
    name: Team Builder
    description: Make 5 team contributions
    rarity: rare
    criteria: {type: category_count, category: TEAM_CONTRIBUTION, target: 5}
  - id: rising_star
    name: Rising Star
    description: Earn 1000 XP
    rarity: common
    criteria: {type: total_xp, target: 1000}
  - id: level_10
    name: Double Digits
    description: Reach level 10
    rarity: epic
    criteria: {type: level, target: 10}
  - id: streak_7
    name: 7 Day Streak
    rarity: rare
    criteria: {type: streak, target: 7}
  - id: streak_30
    name: 30 Day Streak
    rarity: epic
    criteria: {type: streak, target: 30}
  - id: streak_100
    name: Unstoppable
    rarity: legendary
    criteria: {type: streak, target: 100}

streak:
  policy: rolling

levels:
  titles:
    - {max_level: 10, title: Junior Professional}
    - {max_level: 25, title: Mid-Level Professional}
    - {max_level: 40, title: Senior Specialist}
    - {max_level: 55, title: Tech Lead}
    - {max_level: 70, title: Senior Architect}
    - {max_level: 85, title: Team Mentor}
    - {max_level: 0, title: Master Professional}
`
